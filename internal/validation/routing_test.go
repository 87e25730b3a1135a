package validation

import "testing"

func TestIsValidRoutingNumber(t *testing.T) {
	tests := []struct {
		name   string
		number string
		want   bool
	}{
		{name: "valid federal reserve", number: "011000015", want: true},
		{name: "valid bank", number: "121000358", want: true},
		{name: "bad checksum", number: "123456789", want: false},
		{name: "too short", number: "12345678", want: false},
		{name: "too long", number: "0110000151", want: false},
		{name: "non-digit", number: "01100001a", want: false},
		{name: "empty", number: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidRoutingNumber(tt.number); got != tt.want {
				t.Fatalf("IsValidRoutingNumber(%q) = %v, want %v", tt.number, got, tt.want)
			}
		})
	}
}
