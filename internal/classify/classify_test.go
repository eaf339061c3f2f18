package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := New(nil)

	tests := []struct {
		name   string
		url    string
		method string
		want   Intent
	}{
		{"write", "https://forum.example.com/cgi-bin/write.cgi", "POST", IntentWrite},
		{"edit", "https://forum.example.com/cgi-bin/edit.cgi?aid=3", "POST", IntentEdit},
		{"comment", "https://forum.example.com/comment.cgi", "POST", IntentComment},
		{"note", "https://forum.example.com/note.cgi", "post", IntentNote},
		{"login", "https://forum.example.com/login.cgi", "POST", IntentLogin},
		{"get is never classified", "https://forum.example.com/write.cgi", "GET", IntentUnclassified},
		{"unknown script", "https://forum.example.com/list.cgi", "POST", IntentUnclassified},
		{"endpoint only in query", "https://forum.example.com/list.cgi?next=write.cgi", "POST", IntentUnclassified},
		{"relative url", "/board/write.cgi?bid=1", "POST", IntentWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.url, tt.method, "")
			assert.Equal(t, tt.want, got.Intent)
		})
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	c := New(nil)

	// A path naming two scripts resolves to the earlier endpoint in the list.
	got := c.Classify("https://forum.example.com/edit.cgi/write.cgi", "POST", "")
	assert.Equal(t, IntentWrite, got.Intent)
}

func TestClassify_CarriesBoundary(t *testing.T) {
	got := New(nil).Classify("https://f/write.cgi", "POST", "multipart/form-data; boundary=----WebKitFormBoundaryX")
	assert.Equal(t, IntentWrite, got.Intent)
	assert.True(t, got.HasBoundary)
	assert.Equal(t, "----WebKitFormBoundaryX", got.Boundary)
}

func TestEndpointsWithOverrides(t *testing.T) {
	c := New(EndpointsWithOverrides(map[Intent]string{IntentWrite: "post.php"}))

	assert.Equal(t, IntentWrite, c.Classify("https://f/post.php", "POST", "").Intent)
	assert.Equal(t, IntentUnclassified, c.Classify("https://f/write.cgi", "POST", "").Intent)
	assert.Equal(t, IntentEdit, c.Classify("https://f/edit.cgi", "POST", "").Intent)
	assert.Len(t, c.Endpoints(), len(DefaultEndpoints))
	assert.Equal(t, "write.cgi", DefaultEndpoints[0].Name, "defaults are not modified")
}

func TestBoundary(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"multipart/form-data; boundary=X", "X", true},
		{"Multipart/Form-Data; boundary=abc123", "abc123", true},
		{`multipart/form-data; boundary="quoted"`, "quoted", true},
		{"multipart/form-data; boundary=abc; charset=utf-8", "abc", true},
		{"multipart/form-data; boundary=", "", false},
		{"multipart/form-data;boundary=X", "", false},
		{"application/x-www-form-urlencoded", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := Boundary(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsURLEncoded(t *testing.T) {
	assert.True(t, IsURLEncoded("application/x-www-form-urlencoded"))
	assert.True(t, IsURLEncoded("application/x-www-form-urlencoded; charset=UTF-8"))
	assert.False(t, IsURLEncoded("multipart/form-data; boundary=X"))
}

func TestIntentValidate(t *testing.T) {
	for _, ep := range DefaultEndpoints {
		assert.NoError(t, ep.Intent.Validate())
	}
	assert.NoError(t, IntentUnclassified.Validate())
	assert.Error(t, Intent("delete").Validate())
	assert.True(t, IntentEdit.IsArticle())
	assert.False(t, IntentComment.IsArticle())
}
