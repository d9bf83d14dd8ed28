package gbfs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bixbrother/backend-go/pkg/http/client"
)

const informationJSON = `{
	"last_updated": 1700000000,
	"ttl": 10,
	"data": {"stations": [
		{"station_id": "12", "external_id": "0b1f4b1e-2f6c-4c52-9a3e-1f1b6e7c9d01", "name": "Métro Mont-Royal",
		 "short_name": "6052", "lat": 45.524673, "lon": -73.58255, "capacity": 31, "has_kiosk": true},
		{"station_id": "13", "external_id": "6a8e2b1c-3d4f-4e5a-8b9c-0d1e2f3a4b5c", "name": "Square Victoria",
		 "short_name": "6001", "lat": 45.50108, "lon": -73.56214, "capacity": 19, "has_kiosk": false}
	]}
}`

const statusJSON = `{
	"last_updated": 1700000010,
	"ttl": 10,
	"data": {"stations": [
		{"station_id": "12", "num_bikes_available": 4, "num_ebikes_available": 2, "num_bikes_disabled": 0,
		 "num_docks_available": 25, "num_docks_disabled": 0, "last_reported": 1700000005}
	]}
}`

func newTestFeed(t *testing.T, handler http.HandlerFunc) *Feed {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewFeed(client.New(client.Options{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	}))
}

func TestFeed_StationInformation(t *testing.T) {
	t.Parallel()

	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, StationInformationPath, r.URL.Path)
		_, _ = w.Write([]byte(informationJSON))
	})

	info, err := feed.StationInformation(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000), info.LastUpdated)
	assert.Equal(t, int64(10), info.TTL)
	require.Len(t, info.Data.Stations, 2)
	assert.Equal(t, StationInformation{
		StationID:  12,
		ExternalID: uuid.MustParse("0b1f4b1e-2f6c-4c52-9a3e-1f1b6e7c9d01"),
		Name:       "Métro Mont-Royal",
		ShortName:  "6052",
		Lat:        45.524673,
		Lon:        -73.58255,
		Capacity:   31,
		HasKiosk:   true,
	}, info.Data.Stations[0])
}

func TestFeed_StationStatus(t *testing.T) {
	t.Parallel()

	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, StationStatusPath, r.URL.Path)
		_, _ = w.Write([]byte(statusJSON))
	})

	status, err := feed.StationStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Data.Stations, 1)
	assert.Equal(t, StationStatus{
		StationID:          12,
		NumBikesAvailable:  4,
		NumEbikesAvailable: 2,
		NumDocksAvailable:  25,
		LastReported:       1700000005,
	}, status.Data.Stations[0])
}

func TestFeed_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		handler       http.HandlerFunc
		wantKind      ErrorKind
		wantRetryable bool
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantKind:      KindStatus,
			wantRetryable: true,
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantKind:      KindStatus,
			wantRetryable: false,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"data": {"stations": [`))
			},
			wantKind:      KindDecode,
			wantRetryable: false,
		},
		{
			name: "numeric station id instead of string",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"last_updated": 1, "ttl": 1, "data": {"stations": [{"station_id": 12}]}}`))
			},
			wantKind:      KindDecode,
			wantRetryable: false,
		},
		{
			name: "negative counter",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"last_updated": 1, "ttl": 1, "data": {"stations": [{"station_id": "12", "num_bikes_available": -1}]}}`))
			},
			wantKind:      KindDecode,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			feed := newTestFeed(t, tt.handler)
			_, err := feed.StationStatus(context.Background())
			require.Error(t, err)

			var feedErr *FeedError
			require.True(t, errors.As(err, &feedErr))
			assert.Equal(t, tt.wantKind, feedErr.Kind)
			assert.Equal(t, tt.wantRetryable, feedErr.Retryable())
			assert.Equal(t, StationStatusPath, feedErr.Path)
		})
	}
}

func TestFeed_TransportError(t *testing.T) {
	t.Parallel()

	httpClient := client.New(client.Options{})
	httpClient.GetFunc = func(ctx context.Context, path string) (*client.Response, error) {
		return nil, errors.New("connection refused")
	}

	_, err := NewFeed(httpClient).StationStatus(context.Background())
	require.Error(t, err)

	var feedErr *FeedError
	require.True(t, errors.As(err, &feedErr))
	assert.Equal(t, KindTransport, feedErr.Kind)
	assert.True(t, feedErr.Retryable())
	assert.Contains(t, err.Error(), "connection refused")
}
