package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"collapses whitespace", "  hello \n\t world  ", "hello world"},
		{"strips tags", "<b>bold</b> and <i>italic</i>", "bold and italic"},
		{"drops script", "before<script>alert('x')</script> after", "before after"},
		{"drops style", "<style>p{color:red}</style>text", "text"},
		{"decodes entities", "fish &amp; chips", "fish & chips"},
		{"empty", "", ""},
		{"only markup", "<br/><hr>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeText(tt.in))
		})
	}
}
