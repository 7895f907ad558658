package videoloft

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchDevices(t *testing.T) {
	v := newFakeVendor(t)
	v.mux.HandleFunc("GET /region/eu/devices/viewerInfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ManythingToken tok-1", r.Header.Get("Authorization"))
		writeJSON(w, map[string]interface{}{
			"result": map[string]interface{}{
				"owner1": map[string]interface{}{
					"devices": map[string]interface{}{
						"dev2": map[string]interface{}{
							"phonename":      "Driveway",
							"logger":         "log1.example.com",
							"wowza":          "wowzaX",
							"liveStreamName": "strm1",
							"ptzEnabled":     1,
							"mainstreamLive": "1",
							"model":          "C100",
						},
						"dev1": map[string]interface{}{
							"name":   "Garden",
							"logger": "log1.example.com",
						},
						"dev3": map[string]interface{}{},
					},
				},
			},
		})
	})

	c := v.client(t)
	devices, err := c.FetchDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 3)

	assert.Equal(t, "owner1.dev1", devices[0].UIDD)
	assert.Equal(t, "Garden", devices[0].Name)

	d := devices[1]
	assert.Equal(t, "owner1.dev2", d.UIDD)
	assert.Equal(t, "owner1", d.OwnerID)
	assert.Equal(t, "dev2", d.DeviceID)
	assert.Equal(t, "Driveway", d.Name)
	assert.Equal(t, "log1.example.com", d.LoggerServer)
	assert.Equal(t, "wowzaX", d.WowzaHost)
	assert.True(t, d.Capabilities.PTZ)
	assert.True(t, d.Capabilities.MainstreamLive)
	assert.False(t, d.Capabilities.Audio)
	assert.Equal(t, "C100", d.Specs.Model)
	assert.Equal(t, "Unknown", d.Specs.VideoCodec)

	assert.Equal(t, "Camera owner1.dev3", devices[2].Name)
}

func TestClient_FetchDevicesUpstreamError(t *testing.T) {
	v := newFakeVendor(t)
	v.mux.HandleFunc("GET /region/eu/devices/viewerInfo", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := v.client(t).FetchDevices(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
}

func statusHandler(live interface{}, wowza string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"result": map[string]interface{}{
				"owner1": map[string]interface{}{
					"devices": map[string]interface{}{
						"dev2": map[string]interface{}{
							"status":         "live",
							"live":           live,
							"wowza":          wowza,
							"liveStreamName": "strm1",
							"lastthumb":      1700000000123,
						},
					},
				},
			},
		})
	}
}

func TestClient_CameraStatus(t *testing.T) {
	v := newFakeVendor(t)
	var queried []string
	var mu sync.Mutex
	v.mux.HandleFunc("GET /cameras/status", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queried = append(queried, r.URL.Query().Get("uidd"))
		mu.Unlock()
		statusHandler(true, "wowzaX")(w, r)
	})

	c := v.client(t)
	status, err := c.CameraStatus(context.Background(), "owner1.dev2", v.host(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "live", status.Status)
	assert.True(t, status.Live)
	assert.Equal(t, "wowzaX", status.Wowza)
	assert.Equal(t, "strm1", status.LiveStreamName)
	assert.Equal(t, int64(1700000000123), status.LastThumb)
	mu.Lock()
	assert.Equal(t, []string{"owner1.dev2"}, queried)
	mu.Unlock()

	_, err = c.CameraStatus(context.Background(), "owner1.missing", v.host(), time.Second)
	var integrity *DataIntegrityError
	assert.ErrorAs(t, err, &integrity)

	_, err = c.CameraStatus(context.Background(), "not-a-uidd", v.host(), time.Second)
	assert.ErrorAs(t, err, &integrity)
}

func TestClient_SendLiveCommand(t *testing.T) {
	v := newFakeVendor(t)
	var got atomic.Value
	v.mux.HandleFunc("GET /sendcameratask", func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.URL.Query().Get("uid") + ":" + r.URL.Query().Get("action"))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, v.client(t).SendLiveCommand(context.Background(), "owner1.dev2", v.host(), time.Second))
	assert.Equal(t, "owner1.dev2:livecommand", got.Load())
}

func TestClient_StreamURL(t *testing.T) {
	v := newFakeVendor(t)
	c := v.client(t)
	c.cfg.Scheme = "https"
	assert.Equal(t, "https://wowzaX/manything/strm1/index.m3u8", c.StreamURL("wowzaX", "strm1"))
}

func TestClient_EventsPagedSkipsFailingSlice(t *testing.T) {
	v := newFakeVendor(t)
	start := time.UnixMilli(1_700_000_000_000)
	failAt := start.Add(30 * time.Minute).UnixMilli()

	var calls atomic.Int32
	v.mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		startt, _ := strconv.ParseInt(r.URL.Query().Get("startt"), 10, 64)
		if startt == failAt {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, []map[string]interface{}{
			{"alert": "ev-" + strconv.FormatInt(startt, 10), "startt": startt + 1000},
		})
	})

	events, err := v.client(t).EventsPaged(context.Background(), v.host(), "owner1.dev2", start, start.Add(90*time.Minute), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, events, 2)
	assert.Equal(t, "ev-"+strconv.FormatInt(start.UnixMilli(), 10), events[0].ID)
	assert.Equal(t, start.UnixMilli()+1000, events[0].StartTime)
}

func TestClient_EventsObjectMeansEmpty(t *testing.T) {
	v := newFakeVendor(t)
	v.mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"message": "no events"})
	})

	events, err := v.client(t).Events(context.Background(), v.host(), "owner1.dev2", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClient_VehicleAnalytics(t *testing.T) {
	v := newFakeVendor(t)
	v.mux.HandleFunc("GET /events/owner1/dev2/ev-9/analytics/vehicles", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]interface{}{
			{"licence_plate": "AB12CDE", "make": "Ford", "colour": "Blue", "still_time_ms": 1700000000000, "alertid": "ev-9"},
		})
	})

	vehicles, err := v.client(t).VehicleAnalytics(context.Background(), v.host(), "owner1.dev2", "ev-9")
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, "AB12CDE", vehicles[0].LicencePlate)
	assert.Equal(t, "Blue", vehicles[0].Colour)
	assert.Equal(t, int64(1700000000000), vehicles[0].StillTimeMs)
}

func TestClient_Thumbnails(t *testing.T) {
	v := newFakeVendor(t)
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}
	v.mux.HandleFunc("GET /cameras/status", statusHandler(true, "wowzaX"))
	v.mux.HandleFunc("GET /getthumb/owner1.dev2/1700000000123/tok-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpeg)
	})
	v.mux.HandleFunc("GET /alertthumb/owner1.dev2/ev-9/tok-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(jpeg)
	})

	c := v.client(t)
	data, err := c.LatestThumbnail(context.Background(), v.host(), "owner1.dev2", time.Second)
	require.NoError(t, err)
	assert.Equal(t, jpeg, data)

	data, err = c.EventThumbnail(context.Background(), v.host(), "owner1.dev2", "ev-9", time.Second)
	require.NoError(t, err)
	assert.Equal(t, jpeg, data)
}

func TestSplitUIDD(t *testing.T) {
	owner, device, err := SplitUIDD("owner1.dev2")
	require.NoError(t, err)
	assert.Equal(t, "owner1", owner)
	assert.Equal(t, "dev2", device)

	for _, bad := range []string{"", "owner1", "a.b.c", ".dev"} {
		_, _, err := SplitUIDD(bad)
		assert.Error(t, err, bad)
	}
}
