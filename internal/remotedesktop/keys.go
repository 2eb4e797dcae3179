package remotedesktop

// Virtual-key codes used by the dispatcher itself. The viewer sends raw
// virtual-key codes, so the full table lives with the host injectors.
const (
	VKBack     uint16 = 0x08
	VKTab      uint16 = 0x09
	VKReturn   uint16 = 0x0D
	VKShift    uint16 = 0x10
	VKControl  uint16 = 0x11
	VKMenu     uint16 = 0x12
	VKEscape   uint16 = 0x1B
	VKSpace    uint16 = 0x20
	VKPrior    uint16 = 0x21
	VKNext     uint16 = 0x22
	VKEnd      uint16 = 0x23
	VKHome     uint16 = 0x24
	VKLeft     uint16 = 0x25
	VKUp       uint16 = 0x26
	VKRight    uint16 = 0x27
	VKDown     uint16 = 0x28
	VKInsert   uint16 = 0x2D
	VKDelete   uint16 = 0x2E
	VKLWin     uint16 = 0x5B
	VKRWin     uint16 = 0x5C
	VKApps     uint16 = 0x5D
	VKDivide   uint16 = 0x6F
	VKLControl uint16 = 0xA2
	VKRControl uint16 = 0xA3
	VKLMenu    uint16 = 0xA4
	VKRMenu    uint16 = 0xA5
)

// IsExtendedKey reports whether vk lives in the extended key block and must
// be injected with the extended-key flag.
func IsExtendedKey(vk uint16) bool {
	switch vk {
	case VKPrior, VKNext, VKEnd, VKHome,
		VKLeft, VKUp, VKRight, VKDown,
		VKInsert, VKDelete,
		VKLWin, VKRWin, VKApps,
		VKDivide:
		return true
	default:
		return false
	}
}

// ValidKeyCode reports whether code is a usable virtual-key code.
func ValidKeyCode(code int) bool {
	return code >= 1 && code <= 254
}
