package pairing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare token", "ABC123", "ABC123"},
		{"bare token with dash", "ABCD-EFGH", "ABCD-EFGH"},
		{"surrounding whitespace", "  ABCD-EFGH\n", "ABCD-EFGH"},
		{"join url", "https://host/join?code=ABC123", "ABC123"},
		{"join url with page param", "https://host/?page=join&code=ABCD-EFGH", "ABCD-EFGH"},
		{"join url with fragment", "https://host/join?code=ABC123#top", "ABC123"},
		{"token key", "https://host/join?token=ABC123", "ABC123"},
		{"pairingToken key", "https://host/join?pairingToken=ABC123", "ABC123"},
		{"code wins over token", "https://host/join?token=OTHER&code=ABC123", "ABC123"},
		{"relative url", "/join?code=ABC123", "ABC123"},
		{"query only", "?code=ABC123", "ABC123"},
		{"escaped value", "https://host/join?code=ABCD%2DEFGH", "ABCD-EFGH"},
		{"url without token passes through", "https://host/join?page=join", "https://host/join?page=join"},
		{"bad escape passes through", "https://host/join?code=%zz", "https://host/join?code=%zz"},
		{"url without token keeps its whitespace", " https://host/join ", " https://host/join "},
		{"blank passes through", "   ", "   "},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractToken(tc.input))
		})
	}
}

func TestExtractToken_Idempotent(t *testing.T) {
	inputs := []string{
		"ABC123",
		" ABCD-EFGH ",
		"https://host/join?code=ABC123",
		"https://host/join?code=https%3A%2F%2Fother%2F%3Fcode%3DX",
		"https://host/join?code=a%20b",
		"https://host/join?page=join",
		"https://host/join?code=%zz",
		"?",
		"#",
		"   ",
		" https://host/join?page=join ",
		"???code=",
		"code=ABC123",
		"",
	}

	for _, input := range inputs {
		once := ExtractToken(input)
		assert.Equal(t, once, ExtractToken(once), "input %q", input)
	}
}

func TestExtractToken_URLAndBareAgree(t *testing.T) {
	for _, token := range []string{"ABC123", "ABCD-EFGH", "Z9Z9-Z9Z9"} {
		assert.Equal(t, token, ExtractToken(token))
		assert.Equal(t, token, ExtractToken("https://host/join?code="+token))
	}
}

func TestLookupToken(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"bare token", "ABCD-EFGH", "ABCD-EFGH", true},
		{"join url", "https://host/join?code=ABCD-EFGH", "ABCD-EFGH", true},
		{"url without query", "https://host/join", "", false},
		{"url without token", "https://host/join?page=join", "", false},
		{"empty code", "https://host/join?code=", "", false},
		{"blank", "   ", "", false},
		{"sentence", "not a token", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := LookupToken(tc.input)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBuildJoinURL(t *testing.T) {
	t.Run("adds code to base", func(t *testing.T) {
		got, err := BuildJoinURL("https://lab.example.com/join", "ABCD-EFGH")
		require.NoError(t, err)
		assert.Equal(t, "https://lab.example.com/join?code=ABCD-EFGH", got)
	})

	t.Run("keeps existing query", func(t *testing.T) {
		got, err := BuildJoinURL("https://lab.example.com/?page=join", "ABCD-EFGH")
		require.NoError(t, err)
		assert.Equal(t, "https://lab.example.com/?code=ABCD-EFGH&page=join", got)
	})

	t.Run("round trips through the codec", func(t *testing.T) {
		got, err := BuildJoinURL("https://lab.example.com/?page=join", "ABCD-EFGH")
		require.NoError(t, err)
		assert.Equal(t, "ABCD-EFGH", ExtractToken(got))
	})

	t.Run("rejects unparsable base", func(t *testing.T) {
		_, err := BuildJoinURL("://bad", "ABCD-EFGH")
		assert.Error(t, err)
	})
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "5:00", FormatRemaining(300))
	assert.Equal(t, "4:59", FormatRemaining(299))
	assert.Equal(t, "0:09", FormatRemaining(9))
	assert.Equal(t, "0:00", FormatRemaining(0))
	assert.Equal(t, "0:00", FormatRemaining(-3))
}
