package testlist

import "testing"

func TestPytestNameToLabel(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"touchscreen_calibration", "Touchscreen Calibration"},
		{"led.led_test", "LED Test"},
		{"i2c_probe", "I2C Probe"},
		{"emmc_smart", "eMMC Smart"},
		{"rgb_check", "RGB Check"},
		{"hwid", "HWID"},
		{"probe.probe", "Probe"},
	}
	for _, tt := range tests {
		if got := PytestNameToLabel(tt.name); got != tt.want {
			t.Errorf("PytestNameToLabel(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestLabelToID(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"Some test", "SomeTest"},
		{"LED Test", "LEDTest"},
		{"usb-c probe", "UsbCProbe"},
		{"Wi.Fi", "WiFi"},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := LabelToID(tt.label); got != tt.want {
			t.Errorf("LabelToID(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}

func TestValidID(t *testing.T) {
	for _, id := range []string{"A", "Foo2", "LEDTest"} {
		if !ValidID(id) {
			t.Errorf("ValidID(%q) = false, want true", id)
		}
	}
	for _, id := range []string{"", "a.b", "a b", "Foo_2"} {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true, want false", id)
		}
	}
}
