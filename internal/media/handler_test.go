package media

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	gotSource string
	url       string
	err       error
}

func (f *fakeUploader) UploadImage(_ context.Context, imageSource string) (string, error) {
	f.gotSource = imageSource
	return f.url, f.err
}

func multipartUpload(t *testing.T, fieldName, fileName, contentType string, data []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="`+fieldName+`"; filename="`+fileName+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/media/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadSuccess(t *testing.T) {
	uploader := &fakeUploader{url: "https://res.cloudinary.com/demo/image/upload/mug.png"}
	handler := NewUploadHandler(uploader)

	req := multipartUpload(t, "file", "mug.png", "image/png", []byte{0x89, 0x50, 0x4e, 0x47})
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(uploader.gotSource, "data:image/png;base64,"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
}

func TestUploadRejectsNonImage(t *testing.T) {
	handler := NewUploadHandler(&fakeUploader{})

	req := multipartUpload(t, "file", "notes.txt", "text/plain", []byte("hello"))
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	handler := NewUploadHandler(&fakeUploader{})

	req := multipartUpload(t, "file", "empty.png", "image/png", nil)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRequiresFileField(t *testing.T) {
	handler := NewUploadHandler(&fakeUploader{})

	req := multipartUpload(t, "attachment", "mug.png", "image/png", []byte{0x89})
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadUpstreamFailure(t *testing.T) {
	uploader := &fakeUploader{err: context.DeadlineExceeded}
	handler := NewUploadHandler(uploader)

	req := multipartUpload(t, "file", "mug.png", "image/png", []byte{0x89, 0x50})
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
