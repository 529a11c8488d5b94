package cli

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSimpleTextTrims(t *testing.T) {
	var out bytes.Buffer
	r := bufio.NewReader(strings.NewReader("  hello world \n"))

	got, err := GetSimpleText(r, "Say something", &out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Contains(t, out.String(), "Say something")
}

func TestGetSimpleTextPartialLineBeforeEOF(t *testing.T) {
	var out bytes.Buffer
	r := bufio.NewReader(strings.NewReader("no newline"))

	got, err := GetSimpleText(r, "p", &out)
	require.NoError(t, err)
	assert.Equal(t, "no newline", got)
}

func TestGetMultilineStopsOnEmptyLine(t *testing.T) {
	var out bytes.Buffer
	r := bufio.NewReader(strings.NewReader("first\nsecond\n\nignored\n"))

	got, err := GetMultiline(r, "Body", &out)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", got)
}

func TestGetPasswordUsesSeam(t *testing.T) {
	orig := readPassword
	readPassword = func(fd int) ([]byte, error) { return []byte("sekrit"), nil }
	defer func() { readPassword = orig }()

	var out bytes.Buffer
	pw, err := GetPassword(&out, "Enter password")
	require.NoError(t, err)
	assert.Equal(t, []byte("sekrit"), pw)
	assert.Contains(t, out.String(), "Enter password")
}
