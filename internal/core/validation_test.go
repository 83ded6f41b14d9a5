package core

import (
	"strings"
	"testing"
)

func TestValidateNamespaceName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"mixed case", "Alice-Dev_1", false},
		{"max length", strings.Repeat("a", MaxNamespaceNameLen), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxNamespaceNameLen+1), true},
		{"period", "team.dev", true},
		{"slash", "team/dev", true},
		{"space", "team dev", true},
		{"leading hyphen", "-alice", true},
		{"leading underscore", "_alice", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNamespaceName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNamespaceName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRepoName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "webapp", false},
		{"with period", "api.v2", false},
		{"hyphen and underscore", "my-repo_2", false},
		{"leading hyphen allowed", "-scratch", false},
		{"max length", strings.Repeat("a", MaxRepoNameLen), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxRepoNameLen+1), true},
		{"uppercase", "WebApp", true},
		{"slash", "a/b", true},
		{"space", "my repo", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRepoName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRepoName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTagName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "backend", false},
		{"mixed", "High-Priority_2", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxTagNameLen+1), true},
		{"period", "v1.0", true},
		{"space", "in progress", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTagName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTagName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFolderName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "Projects", false},
		{"spaces and punctuation", "Q3 Roadmap (draft)", false},
		{"unicode", "アーカイブ", false},
		{"max length", strings.Repeat("a", MaxFolderNameLen), false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", MaxFolderNameLen+1), true},
		{"slash", "a/b", true},
		{"newline", "a\nb", true},
		{"nul byte", "a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFolderName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFolderName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateHexColor(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"short form", "#abc", false},
		{"long form", "#00ff99", false},
		{"uppercase digits", "#AABB99", false},
		{"missing hash", "00ff99", true},
		{"wrong length", "#ffff", true},
		{"non-hex", "#gghhii", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHexColor(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateHexColor(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
