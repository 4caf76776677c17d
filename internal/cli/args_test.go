package cli

import (
	"testing"
)

func TestArgsValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"show needs id or program", []string{"show"}},
		{"show rejects id and program", []string{"show", "abcd", "--program", "House A"}},
		{"toggle needs id", []string{"toggle"}},
		{"toggle takes one id", []string{"toggle", "a", "b"}},
		{"list takes no args", []string{"list", "extra"}},
		{"import takes no args", []string{"import", "extra"}},
		{"serve takes no args", []string{"serve", "extra"}},
		{"keys create needs name", []string{"keys", "create"}},
		{"keys delete needs id", []string{"keys", "delete"}},
		{"config set needs key and value", []string{"config", "set", "log.level"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFlagValidation(t *testing.T) {
	db := isolate(t)

	tests := []struct {
		name string
		args []string
	}{
		{"add needs program", []string{"add", "--city", "Surrey"}},
		{"bad near", []string{"list", "--near", "north"}},
		{"near out of range", []string{"list", "--near", "95,10"}},
		{"keys create needs email", []string{"keys", "create", "laptop"}},
		{"keys delete numeric id", []string{"keys", "delete", "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(append(tt.args, "--db", db)...)
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
