package platform

import "fmt"

// vkNames maps Windows virtual-key codes to robotgo key names.
var vkNames = map[uint16]string{
	0x08: "backspace",
	0x09: "tab",
	0x0D: "enter",
	0x10: "shift",
	0x11: "ctrl",
	0x12: "alt",
	0x14: "capslock",
	0x1B: "escape",
	0x20: "space",
	0x21: "pageup",
	0x22: "pagedown",
	0x23: "end",
	0x24: "home",
	0x25: "left",
	0x26: "up",
	0x27: "right",
	0x28: "down",
	0x2C: "printscreen",
	0x2D: "insert",
	0x2E: "delete",
	0x5B: "lcmd",
	0x5C: "rcmd",
	0x5D: "menu",
	0x6A: "num_mul",
	0x6B: "num_plus",
	0x6D: "num_minus",
	0x6E: "num_decimal",
	0x6F: "num_div",
	0x90: "num_lock",
	0xA0: "lshift",
	0xA1: "rshift",
	0xA2: "lctrl",
	0xA3: "rctrl",
	0xA4: "lalt",
	0xA5: "ralt",
	0xAD: "audio_mute",
	0xAE: "audio_vol_down",
	0xAF: "audio_vol_up",
	0xBA: ";",
	0xBB: "=",
	0xBC: ",",
	0xBD: "-",
	0xBE: ".",
	0xBF: "/",
	0xC0: "`",
	0xDB: "[",
	0xDC: "\\",
	0xDD: "]",
	0xDE: "'",
}

// KeyName returns the robotgo name for a virtual-key code.
func KeyName(vk uint16) (string, bool) {
	switch {
	case vk >= 0x30 && vk <= 0x39:
		return string(rune('0' + vk - 0x30)), true
	case vk >= 0x41 && vk <= 0x5A:
		return string(rune('a' + vk - 0x41)), true
	case vk >= 0x60 && vk <= 0x69:
		return fmt.Sprintf("num%d", vk-0x60), true
	case vk >= 0x70 && vk <= 0x87:
		return fmt.Sprintf("f%d", vk-0x70+1), true
	}
	name, ok := vkNames[vk]
	return name, ok
}
