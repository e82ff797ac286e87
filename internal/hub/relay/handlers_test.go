package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CH563/web-transfer/internal/hub/presence"
	"github.com/CH563/web-transfer/internal/hub/store"
)

type fakeNotifier struct {
	completions []string
	offers      []store.Transfer
}

func (f *fakeNotifier) NotifyTransferComplete(transferID, receiverID string) {
	f.completions = append(f.completions, transferID)
}

func (f *fakeNotifier) OfferToReceiver(t store.Transfer) {
	f.offers = append(f.offers, t)
}

type relayFixture struct {
	handler  *Handler
	router   *chi.Mux
	notifier *fakeNotifier
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()

	notifier := &fakeNotifier{}
	h := NewHandler(NewBuffer(), store.NewStore(), presence.NewRegistry(), notifier)
	r := chi.NewRouter()
	h.Routes(r)
	return &relayFixture{handler: h, router: r, notifier: notifier}
}

// acceptedTransfer seeds a transfer the receiver already accepted.
func (f *relayFixture) acceptedTransfer(t *testing.T, id string) {
	t.Helper()

	_, err := f.handler.Transfers.Create(store.Transfer{
		ID: id, FileName: "photo.jpg", FileSize: 5, FileType: "image/jpeg",
		SenderID: "sender", ReceiverID: "receiver",
	})
	require.NoError(t, err)
	_, err = f.handler.Transfers.Update(id, store.Patch{Status: store.StatusAccepted})
	require.NoError(t, err)
	f.handler.Buffer.Authorize(id)
}

func (f *relayFixture) upload(id string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/transfer/"+id+"/upload", bytes.NewReader(body))
	req.Header.Set(HeaderFilename, url.QueryEscape("photo.jpg"))
	req.Header.Set("Content-Type", "image/jpeg")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *relayFixture) download(id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/transfer/"+id+"/download", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	f := newRelayFixture(t)
	f.acceptedTransfer(t, "t1")

	payload := []byte("jpegs")
	w := f.upload("t1", payload, nil)
	require.Equal(t, http.StatusOK, w.Code)

	got, ok := f.handler.Transfers.Get("t1")
	require.True(t, ok)
	assert.Equal(t, store.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, []string{"t1"}, f.notifier.completions)

	w = f.download("t1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.Bytes())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `"photo.jpg"`)

	relPath, err := url.QueryUnescape(w.Header().Get(HeaderRelativePath))
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", relPath)
}

func TestUploadRetryIsIdempotent(t *testing.T) {
	f := newRelayFixture(t)
	f.acceptedTransfer(t, "t1")

	require.Equal(t, http.StatusOK, f.upload("t1", []byte("data"), nil).Code)

	w := f.upload("t1", []byte("different data"), map[string]string{HeaderRetryCount: "1"})
	require.Equal(t, http.StatusOK, w.Code)

	// Only the first upload notified and stored.
	assert.Equal(t, []string{"t1"}, f.notifier.completions)
	e, ok := f.handler.Buffer.Get("t1")
	require.True(t, ok)
	assert.Equal(t, []byte("data"), e.Data)
}

func TestDownloadRequiresAcceptance(t *testing.T) {
	f := newRelayFixture(t)
	f.handler.Buffer.Put("t1", Entry{Data: []byte("x"), FileName: "x.bin"})

	w := f.download("t1")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Unknown ids look the same as unaccepted ones.
	w = f.download("ghost")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDownloadMissingEntry(t *testing.T) {
	f := newRelayFixture(t)
	f.handler.Buffer.Authorize("t1")

	w := f.download("t1")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadTooLarge(t *testing.T) {
	f := newRelayFixture(t)
	f.acceptedTransfer(t, "t1")
	f.handler.MaxUploadBytes = 8

	w := f.upload("t1", []byte("way past the byte limit"), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.False(t, f.handler.Buffer.Has("t1"))
	assert.Empty(t, f.notifier.completions)
}

func TestUploadRejectsMissingFilename(t *testing.T) {
	f := newRelayFixture(t)
	f.acceptedTransfer(t, "t1")

	req := httptest.NewRequest(http.MethodPost, "/transfer/t1/upload", strings.NewReader("x"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadUnknownTransfer(t *testing.T) {
	f := newRelayFixture(t)

	w := f.upload("ghost", []byte("x"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFolderUploadCreatesPendingTransfer(t *testing.T) {
	f := newRelayFixture(t)

	w := f.upload("batch-1", []byte("nested"), map[string]string{
		HeaderSenderID:     "sender",
		HeaderReceiverID:   "receiver",
		HeaderRelativePath: url.QueryEscape("album/photo.jpg"),
	})
	require.Equal(t, http.StatusOK, w.Code)

	// The record exists and the receiver was offered the transfer, but
	// the payload stays locked until it accepts.
	got, ok := f.handler.Transfers.Get("batch-1")
	require.True(t, ok)
	assert.Equal(t, "sender", got.SenderID)
	require.Len(t, f.notifier.offers, 1)
	assert.Equal(t, "batch-1", f.notifier.offers[0].ID)

	assert.Equal(t, http.StatusForbidden, f.download("batch-1").Code)

	f.handler.Buffer.Authorize("batch-1")
	w = f.download("batch-1")
	require.Equal(t, http.StatusOK, w.Code)
	relPath, _ := url.QueryUnescape(w.Header().Get(HeaderRelativePath))
	assert.Equal(t, "album/photo.jpg", relPath)
}

func TestFolderUploadDefersCompletionNotice(t *testing.T) {
	f := newRelayFixture(t)

	w := f.upload("batch-1", []byte("nested"), map[string]string{
		HeaderSenderID:   "sender",
		HeaderReceiverID: "receiver",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// The transfer is still awaiting the receiver's answer, so no
	// completion may go out yet; the acceptance path sends it later.
	assert.Empty(t, f.notifier.completions)
	got, ok := f.handler.Transfers.Get("batch-1")
	require.True(t, ok)
	assert.Equal(t, store.StatusPending, got.Status)
	assert.True(t, f.handler.Buffer.Processed("batch-1"))
}

func TestFolderUploadNeedsBothEndpoints(t *testing.T) {
	f := newRelayFixture(t)

	w := f.upload("batch-1", []byte("x"), map[string]string{HeaderSenderID: "sender"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.upload("batch-2", []byte("x"), map[string]string{
		HeaderSenderID:   "same",
		HeaderReceiverID: "same",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInventory(t *testing.T) {
	f := newRelayFixture(t)
	f.acceptedTransfer(t, "t1")

	req := httptest.NewRequest(http.MethodGet, "/transfers/receiver", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Active  []store.Transfer `json:"active"`
		History []store.Transfer `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Active, 1)
	assert.Equal(t, "t1", body.Active[0].ID)
	assert.Empty(t, body.History)

	// Devices with no transfers still get well-formed empty arrays.
	req = httptest.NewRequest(http.MethodGet, "/transfers/stranger", nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.JSONEq(t, `{"active":[],"history":[]}`, w.Body.String())
}

func TestDevicesEndpoint(t *testing.T) {
	f := newRelayFixture(t)
	f.handler.Registry.Register("laptop-1", "Laptop", presence.TypeLaptop)

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var devices []presence.Device
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "laptop-1", devices[0].ID)
}
