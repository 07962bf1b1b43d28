package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", &googleapi.Error{Code: 404}, apperr.IsPermanentRemote},
		{"gone", &googleapi.Error{Code: 410}, apperr.IsPermanentRemote},
		{"too many requests", &googleapi.Error{Code: 429}, apperr.IsTransient},
		{"quota forbidden", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, apperr.IsTransient},
		{"forbidden", &googleapi.Error{Code: 403}, apperr.IsRejected},
		{"bad request", &googleapi.Error{Code: 400}, apperr.IsRejected},
		{"unauthorized", &googleapi.Error{Code: 401}, apperr.IsRejected},
		{"server error", &googleapi.Error{Code: 503}, apperr.IsTransient},
		{"network", errors.New("connection reset"), apperr.IsTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(classifyError("drive", "f1", tt.err)))
		})
	}

	assert.NoError(t, classifyError("drive", "", nil))
	assert.ErrorIs(t, classifyError("drive", "", context.Canceled), context.Canceled)
}

func TestClassifyError_RetryAfterHeader(t *testing.T) {
	err := classifyError("gmail", "m1", &googleapi.Error{
		Code:   429,
		Header: http.Header{"Retry-After": []string{"7"}},
	})
	d, ok := apperr.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d)
}

func TestTripsBreaker(t *testing.T) {
	assert.True(t, tripsBreaker(&googleapi.Error{Code: 500}))
	assert.True(t, tripsBreaker(&googleapi.Error{Code: 429}))
	assert.False(t, tripsBreaker(&googleapi.Error{Code: 404}))
	assert.False(t, tripsBreaker(&googleapi.Error{Code: 403}))
	assert.False(t, tripsBreaker(context.Canceled))
}

func TestBuildGmailQuery(t *testing.T) {
	tests := []struct {
		name       string
		categories []string
		extra      string
		want       string
	}{
		{"default categories", []string{CategorySpam, CategoryPromotions, CategorySocial}, "", "{in:spam category:promotions category:social}"},
		{"single", []string{CategoryPromotions}, "", "category:promotions"},
		{"with extra", []string{CategorySocial}, "older_than:1y", "category:social older_than:1y"},
		{"extra only", nil, "larger:5M", "larger:5M"},
		{"unknown ignored", []string{"INBOX"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildGmailQuery(tt.categories, tt.extra))
		})
	}
}

func TestBuildDriveQuery(t *testing.T) {
	q := BuildDriveQuery(nil)
	assert.Contains(t, q, "trashed = false")
	assert.Contains(t, q, "mimeType contains 'image/'")

	q = BuildDriveQuery([]string{"image/jpeg", "video/mp4"})
	assert.Contains(t, q, "(mimeType = 'image/jpeg' or mimeType = 'video/mp4')")
}

// =============================================================================
// Gmail against a fake API
// =============================================================================

func newFakeGmail(t *testing.T, handler http.HandlerFunc) *GmailSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	src, err := NewGmailSourceWithService(svc, DefaultGmailConfig(), nil)
	require.NoError(t, err)
	return src
}

func TestGmailSource_ListMessages(t *testing.T) {
	src := newFakeGmail(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages"):
			assert.Equal(t, "{in:spam category:promotions category:social}", r.URL.Query().Get("q"))
			assert.Equal(t, "true", r.URL.Query().Get("includeSpamTrash"))
			_, _ = w.Write([]byte(`{"messages":[{"id":"m1"},{"id":"gone"},{"id":"m2"}],"nextPageToken":"p2"}`))
		case strings.HasSuffix(r.URL.Path, "/messages/gone"):
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
		case strings.HasSuffix(r.URL.Path, "/messages/m1"):
			_, _ = w.Write([]byte(`{"id":"m1","threadId":"t1","labelIds":["CATEGORY_PROMOTIONS"],"snippet":"50% off","sizeEstimate":2048,"internalDate":"1700000000000",
				"payload":{"headers":[{"name":"From","value":"Shop <deals@shop.example>"},{"name":"Subject","value":"Sale"},{"name":"List-Unsubscribe","value":"<mailto:u@shop.example>"}]}}`))
		case strings.HasSuffix(r.URL.Path, "/messages/m2"):
			_, _ = w.Write([]byte(`{"id":"m2","payload":{"headers":[{"name":"From","value":"bob@example.com"},{"name":"Precedence","value":"bulk"}]}}`))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	page, err := src.ListMessages(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "p2", page.NextCursor)
	require.Len(t, page.Messages, 2)

	m1 := page.Messages[0]
	assert.Equal(t, "m1", m1.ID)
	assert.Equal(t, "Shop <deals@shop.example>", m1.Sender)
	assert.Equal(t, "shop.example", m1.SenderDomain())
	assert.Equal(t, "Sale", m1.Subject)
	assert.Equal(t, "50% off", m1.BodyExcerpt)
	assert.Equal(t, []string{"CATEGORY_PROMOTIONS"}, m1.LabelHints)
	assert.Equal(t, "<mailto:u@shop.example>", m1.Headers.ListUnsubscribe)
	assert.Equal(t, int64(2048), m1.SizeBytes)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), m1.ReceivedAt)

	assert.Equal(t, "m2", page.Messages[1].ID)
	assert.Equal(t, "bulk", page.Messages[1].Headers.Precedence)
}

func TestGmailSource_DeleteMessage(t *testing.T) {
	var paths []string
	src := newFakeGmail(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages/m1/trash"):
			_, _ = w.Write([]byte(`{"id":"m1"}`))
		case strings.HasSuffix(r.URL.Path, "/messages/m404/trash"):
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"forbidden"}}`))
		}
	})

	require.NoError(t, src.DeleteMessage(context.Background(), "m1"))
	assert.True(t, apperr.IsPermanentRemote(src.DeleteMessage(context.Background(), "m404")))
	assert.True(t, apperr.IsRejected(src.DeleteMessage(context.Background(), "denied")))
	require.NotEmpty(t, paths)
	assert.True(t, strings.HasPrefix(paths[0], http.MethodPost))
}

func TestGmailConfig_Validate(t *testing.T) {
	cfg := DefaultGmailConfig()
	assert.NoError(t, cfg.Validate())

	cfg.DeleteMode = "shred"
	assert.True(t, apperr.IsConfiguration(cfg.Validate()))
}

// =============================================================================
// Drive against a fake API
// =============================================================================

func newFakeDrive(t *testing.T, cfg DriveConfig, handler http.HandlerFunc) *DriveSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	src, err := NewDriveSourceWithService(svc, cfg, nil)
	require.NoError(t, err)
	return src
}

func TestDriveSource_ListItems(t *testing.T) {
	cfg := DefaultDriveConfig()
	cfg.MinSizeBytes = 1000

	src := newFakeDrive(t, cfg, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		assert.True(t, strings.HasSuffix(r.URL.Path, "/files"))
		assert.Equal(t, "cursor-1", r.URL.Query().Get("pageToken"))
		_, _ = w.Write([]byte(`{"nextPageToken":"","files":[
			{"id":"f1","name":"beach.jpg","mimeType":"image/jpeg","size":"5000","modifiedTime":"2023-05-01T10:00:00Z","imageMediaMetadata":{"time":"2021:07:04 18:30:00"}},
			{"id":"f2","name":"tiny.png","mimeType":"image/png","size":"10","modifiedTime":"2023-05-01T10:00:00Z"},
			{"id":"f3","name":"clip.mp4","mimeType":"video/mp4","size":"90000","createdTime":"2022-01-01T00:00:00Z"}
		]}`))
	})

	page, err := src.ListItems(context.Background(), "cursor-1")
	require.NoError(t, err)

	assert.Empty(t, page.NextCursor)
	require.Len(t, page.Items, 2)

	f1 := page.Items[0]
	assert.Equal(t, "f1", f1.ID)
	assert.Equal(t, int64(5000), f1.SizeBytes)
	assert.Equal(t, time.Date(2021, 7, 4, 18, 30, 0, 0, time.UTC), f1.CapturedAt)
	assert.Equal(t, time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC), f1.ModifiedAt)

	f3 := page.Items[1]
	assert.Equal(t, "f3", f3.ID)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), f3.ModifiedAt)
}

func TestDriveSource_FetchFacesWithoutExtractor(t *testing.T) {
	src := newFakeDrive(t, DefaultDriveConfig(), func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})

	_, err := src.FetchFaces(context.Background(), nil)
	assert.True(t, apperr.IsClassifierUnavailable(err))
}

func TestDriveSource_DeleteItemGone(t *testing.T) {
	cfg := DefaultDriveConfig()
	cfg.DeleteMode = DeleteModePermanent

	src := newFakeDrive(t, cfg, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"File not found"}}`))
	})

	err := src.DeleteItem(context.Background(), "f9")
	assert.True(t, apperr.IsPermanentRemote(err))
}

func TestDriveSource_GoneDeletesKeepBreakerClosed(t *testing.T) {
	cfg := DefaultDriveConfig()
	cfg.DeleteMode = DeleteModePermanent

	src := newFakeDrive(t, cfg, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/live") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"File not found"}}`))
	})

	for i := 0; i < 10; i++ {
		err := src.DeleteItem(context.Background(), "gone"+string(rune('a'+i)))
		require.True(t, apperr.IsPermanentRemote(err), "delete %d: %v", i, err)
	}

	assert.NoError(t, src.DeleteItem(context.Background(), "live"))
	assert.Equal(t, "closed", src.cb.State().String())
}

func TestTokenFile_Sealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	enc, err := crypto.NewEncryptor([]byte("token-key"))
	require.NoError(t, err)

	require.NoError(t, saveToken(path, enc, &oauth2.Token{AccessToken: "at", RefreshToken: "rt"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, crypto.IsSealed(raw))
	assert.NotContains(t, string(raw), "rt")

	token, err := loadToken(path, enc)
	require.NoError(t, err)
	assert.Equal(t, "rt", token.RefreshToken)

	_, err = loadToken(path, nil)
	assert.True(t, apperr.HasCode(err, apperr.CodeConfigError))
}

func TestTokenFile_PlainReadWithKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, saveToken(path, nil, &oauth2.Token{AccessToken: "at"}))

	enc, err := crypto.NewEncryptor([]byte("token-key"))
	require.NoError(t, err)
	token, err := loadToken(path, enc)
	require.NoError(t, err)
	assert.Equal(t, "at", token.AccessToken)
}

func TestTokenFile_Missing(t *testing.T) {
	_, err := loadToken(filepath.Join(t.TempDir(), "absent.json"), nil)
	assert.True(t, apperr.HasCode(err, apperr.CodeConfigError))
}
