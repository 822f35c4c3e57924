package rulebook

import "testing"

func TestValidateWhen(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{"simple comparison", "x > 5", false},
		{"undeclared identifiers are fine", "User.Age >= 18 && country == 'US'", false},
		{"function call", "size(items) > 0", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"unbalanced paren", "(x > 5", true},
		{"dangling operator", "x >", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWhen(tt.expression)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWhen(%q) = %v, wantErr %v", tt.expression, err, tt.wantErr)
			}
			if err != nil && !IsValidation(err) {
				t.Errorf("ValidateWhen(%q) error is not a validation error: %v", tt.expression, err)
			}
		})
	}
}
