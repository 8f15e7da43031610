package inline

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	attachmentsdomain "github.com/Adoubf/cloud-mail/internal/attachments/domain"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func newExtractor() *Extractor {
	return &Extractor{
		PublicBaseURL: "https://cdn.example.com",
		KeyPrefix:     "attachments/",
		Now:           func() time.Time { return time.UnixMilli(1700000000000) },
	}
}

func dataURI(mime string, b []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
}

func TestExtract_RewritesDataURIImage(t *testing.T) {
	in := `<p>hi</p><img src="` + dataURI("image/png", pngHeader) + `"><img src="https://x.test/a.png" width="10">`

	res, err := newExtractor().Extract(in)
	require.NoError(t, err)
	require.Len(t, res.Extracted, 1)

	d := res.Extracted[0]
	wantKey := "attachments/" + attachmentsdomain.ContentHash(pngHeader) + ".png"
	assert.Equal(t, wantKey, d.Key)
	assert.Equal(t, "image_1700000000000.png", d.Filename)
	assert.Equal(t, "image/png", d.MimeType)
	assert.Equal(t, pngHeader, d.Content)

	assert.True(t, strings.HasPrefix(res.HTML, "<p>hi</p>"), res.HTML)
	assert.NotContains(t, res.HTML, "<html")
	assert.NotContains(t, res.HTML, "data:image")
	assert.Contains(t, res.HTML, `src="https://cdn.example.com/`+wantKey+`"`)
	assert.Contains(t, res.HTML, `style="max-width: 100%;"`)
	assert.Contains(t, res.HTML, `<img src="https://x.test/a.png" width="10"/>`)
}

func TestExtract_LeavesMalformedDataURI(t *testing.T) {
	in := `<img src="data:image/png;base64,@@@">`

	res, err := newExtractor().Extract(in)
	require.NoError(t, err)
	assert.Empty(t, res.Extracted)
	assert.Contains(t, res.HTML, `src="data:image/png;base64,@@@"`)
	assert.Contains(t, res.HTML, `style="max-width: 100%;"`)
}

func TestExtract_WidthGuard(t *testing.T) {
	tests := []struct {
		name string
		img  string
		want string
	}{
		{
			name: "appends to existing style",
			img:  `<img src="a.png" style="border: 0;">`,
			want: `style="border: 0; max-width: 100%;"`,
		},
		{
			name: "style width kept",
			img:  `<img src="a.png" style="height:10px;width:20px">`,
			want: `style="height:10px;width:20px"`,
		},
		{
			name: "leading style width kept",
			img:  `<img src="a.png" style="WIDTH : 20px">`,
			want: `style="WIDTH : 20px"`,
		},
		{
			name: "max-width alone is not a width",
			img:  `<img src="a.png" style="max-width: 50%">`,
			want: `style="max-width: 50%; max-width: 100%;"`,
		},
		{
			name: "width attribute kept",
			img:  `<img src="a.png" width="300">`,
			want: `<img src="a.png" width="300"/>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newExtractor().Extract(tt.img)
			require.NoError(t, err)
			assert.Contains(t, res.HTML, tt.want)
		})
	}
}

func TestExtract_WholeDocument(t *testing.T) {
	in := `<!DOCTYPE html><html><head><title>t</title></head><body><img src="` +
		dataURI("image/jpeg", []byte("jpeg-bytes")) + `"></body></html>`

	res, err := newExtractor().Extract(in)
	require.NoError(t, err)
	require.Len(t, res.Extracted, 1)

	assert.Equal(t, "image_1700000000000.jpeg", res.Extracted[0].Filename)
	assert.True(t, strings.HasPrefix(res.HTML, "<!DOCTYPE html><html>"), res.HTML)
	assert.Contains(t, res.HTML, "<title>t</title>")
	assert.Contains(t, res.HTML, `src="https://cdn.example.com/attachments/`)
}

func TestExtract_SameImageTwiceSharesKey(t *testing.T) {
	uri := dataURI("image/gif", []byte("GIF89a"))
	in := `<div><img src="` + uri + `"><span><img src="` + uri + `"></span></div>`

	res, err := newExtractor().Extract(in)
	require.NoError(t, err)
	require.Len(t, res.Extracted, 2)
	assert.Equal(t, res.Extracted[0].Key, res.Extracted[1].Key)
}

func TestExtract_NoPublicBaseURL(t *testing.T) {
	e := newExtractor()
	e.PublicBaseURL = ""

	res, err := e.Extract(`<img src="` + dataURI("image/png", pngHeader) + `">`)
	require.NoError(t, err)
	require.Len(t, res.Extracted, 1)
	assert.Contains(t, res.HTML, `src="/`+res.Extracted[0].Key+`"`)
}

func TestExtract_NoImagesKeepsStructure(t *testing.T) {
	in := `<p>hello <b>world</b></p><ul><li>a</li></ul>`

	res, err := newExtractor().Extract(in)
	require.NoError(t, err)
	assert.Empty(t, res.Extracted)
	assert.Equal(t, in, res.HTML)
}
