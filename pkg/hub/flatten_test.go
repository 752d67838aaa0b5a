package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlatten_TextJoined(t *testing.T) {
	r := Flatten("fn-1", []Response{
		{Type: TypeText, Content: "line one", Description: "weather_lookup"},
		{Type: TypeText, Content: "line two"},
	})

	assert.Equal(t, "fn-1", r.FunctionID)
	assert.Equal(t, "weather_lookup", r.FunctionName)
	assert.Equal(t, "line one\nline two", r.Text)
	assert.Empty(t, r.Error)
}

func TestFlatten_MediaMarkers(t *testing.T) {
	r := Flatten("fn-1", []Response{
		{Type: TypeText, Content: "here you go"},
		{Type: TypeImageURL, Content: "https://cdn/img.png", Description: "chart of results"},
		{Type: TypeVideoURL, Content: "https://cdn/clip.mp4"},
		{Type: TypeAudioURL, Content: "https://cdn/clip.mp3"},
	})

	assert.Equal(t,
		"here you go\n[Image: chart of results]\n[Video: Generated video]\n[Audio: Generated audio]",
		r.Text)
	assert.Equal(t, []string{"https://cdn/img.png"}, r.ImageURLs)
	assert.Equal(t, []string{"https://cdn/clip.mp4"}, r.VideoURLs)
	assert.Equal(t, []string{"https://cdn/clip.mp3"}, r.AudioURLs)
}

func TestFlatten_FirstBlobWins(t *testing.T) {
	r := Flatten("fn-1", []Response{
		{Type: TypeBlob, Content: "QUJD", Description: "archive"},
		{Type: TypeImage, Content: "XYZ=", Description: "screenshot"},
	})

	assert.Equal(t, "QUJD", r.Blob)
	assert.Equal(t, "[File: archive]\n[Image: screenshot]", r.Text)
}

func TestFlatten_ErrorsConcatenated(t *testing.T) {
	r := Flatten("fn-1", []Response{
		{Type: TypeError, Content: "first failure"},
		{Type: TypeText, Content: "partial output"},
		{Type: TypeError, Content: "second failure"},
	})

	assert.Equal(t, "first failure\nsecond failure", r.Error)
	assert.Equal(t, "partial output", r.Text)
}

func TestFlatten_UnknownTypeTreatedAsText(t *testing.T) {
	r := Flatten("fn-1", []Response{
		{Type: "csv", Content: "a,b,c"},
	})
	assert.Equal(t, "a,b,c", r.Text)
}

func TestFlatten_Empty(t *testing.T) {
	r := Flatten("fn-1", nil)
	assert.Equal(t, "fn-1", r.FunctionID)
	assert.Empty(t, r.FunctionName)
	assert.Empty(t, r.Text)
}
