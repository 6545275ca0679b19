package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestMetaContent(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><head>
		<meta name="viewport" content="width=device-width">
		<meta name="csrf-token" content=" abc123 ">
	</head></html>`))
	require.NoError(t, err)

	require.Equal(t, "abc123", MetaContent(doc, "csrf-token"))
	require.Equal(t, "", MetaContent(doc, "missing"))
}

func TestSummarize(t *testing.T) {
	cases := []struct {
		body     string
		max      int
		expected string
	}{
		{body: `<html><head><title> Page   Expired </title></head></html>`, max: 100, expected: "Page Expired"},
		{body: `<div>Server <b>Error</b><script>var x = 1;</script></div>`, max: 100, expected: "Server Error"},
		{body: `<p>abcdefghij</p>`, max: 4, expected: "abcd..."},
	}

	for _, test := range cases {
		require.Equal(t, test.expected, Summarize([]byte(test.body), test.max))
	}
}
