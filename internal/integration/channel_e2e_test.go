//go:build integration || !unit

package integration

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	server "hotel_channel/internal/adapters/http_server"
	"hotel_channel/internal/app"
	"hotel_channel/internal/bootstrap"
	"hotel_channel/internal/domain"
	"hotel_channel/internal/shared"
)

// ---------- helpers ----------
func mustEnv(t *testing.T, k string) string {
	t.Helper()
	v := os.Getenv(k)
	if v == "" {
		t.Skipf("%s not set; export it (e.g. MIGRATIONS_DIR=/path/to/migrations)", k)
	}
	return v
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := mustEnv(t, "MIGRATIONS_DIR")

	ents, err := os.ReadDir(dir)
	require.NoError(t, err, "read migrations dir")
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	require.NotEmpty(t, files, "no .sql files in %s", dir)
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = db.Exec(string(sqlBytes))
		require.NoError(t, err, "exec %s", f)
	}
}

// fakeGateway answers the wire protocol and records what it was sent.
type fakeGateway struct {
	mu     sync.Mutex
	bodies map[string][]string
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	op := strings.TrimPrefix(r.URL.Path, "/")
	g.mu.Lock()
	if g.bodies == nil {
		g.bodies = map[string][]string{}
	}
	g.bodies[op] = append(g.bodies[op], string(body))
	g.mu.Unlock()

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("X-Request-Id", "gw-"+op)
	switch op {
	case "reservation_list":
		_, _ = io.WriteString(w, `<response><reservations>
		  <reservation id="RES-1" status="A" change_token="t1" ota="booking" currency="EUR" checkin="10.01.2030" checkout="12.01.2030">
		    <guest first_name="Ada" last_name="Lovelace"/>
		    <rooms><room room_id="R1" rate_id="BB" adults="2" total="240.00"/></rooms>
		  </reservation>
		</reservations></response>`)
	case "inventory":
		_, _ = io.WriteString(w, `<response><success/><rqid>rq-e2e</rqid></response>`)
	default:
		_, _ = io.WriteString(w, `<response><success/></response>`)
	}
}

func (g *fakeGateway) sent(op string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.bodies[op]...)
}

// ---------- the test ----------
func TestChannel_EndToEnd(t *testing.T) {
	mustEnv(t, "MIGRATIONS_DIR")

	// Start isolated MySQL container
	pool, err := dockertest.NewPool("")
	require.NoError(t, err, "dockertest")
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env:        []string{"MYSQL_ROOT_PASSWORD=root", "MYSQL_DATABASE=channel"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err, "run mysql")
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/channel?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC",
		resource.GetPort("3306/tcp"))
	var db *sql.DB
	require.NoError(t, pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}), "connect mysql")
	t.Cleanup(func() { _ = db.Close() })
	applyMigrations(t, db)

	gw := &fakeGateway{}
	gwSrv := httptest.NewServer(gw)
	defer gwSrv.Close()

	ctx := context.Background()
	stack, err := bootstrap.Build(ctx, shared.Config{
		MySQLDSN:       dsn,
		CredentialsKey: base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
		LookupKey:      "e2e-lookup",
		SnowflakeNode:  3,
		GatewayRPS:     50,
		GatewayTimeout: 5 * time.Second,
		FlushBatchSize: 50,
		MaxAttempts:    5,
	})
	require.NoError(t, err)
	defer stack.Close()

	conn, err := stack.Registry.Create(ctx, app.NewConnection{
		HotelID:  100,
		Provider: "otagw",
		Mode:     domain.ModeTwoWay,
		Credentials: domain.Credentials{
			UserID: "hotel-user", Password: "s3cr3t-pass", PropertyID: "4711", BaseURL: gwSrv.URL,
		},
		RoomMappings: []domain.RoomMapping{{
			LocalRoomTypeID: 1, RemoteRoomID: "R1",
			RateMappings: []domain.RateMapping{{LocalMealPlanID: 10, RemoteRateID: "BB"}},
		}},
	})
	require.NoError(t, err)

	notifier := app.NewNotifier(stack.Queue, 16, 1)
	h := &server.Handlers{Conns: stack.Registry, Reconciler: stack.Reconciler, Notifier: notifier, Logs: stack.Repo}
	srv := server.New(10 * time.Second)
	srv.MountHandlers(h)
	api := httptest.NewServer(srv.Mux())
	defer api.Close()

	// reservation push -> reconcile -> booking + one confirm
	res, err := http.Post(api.URL+"/webhooks/otagw/reservations?hotel_id=4711", "application/xml", strings.NewReader("<push/>"))
	require.NoError(t, err)
	_ = res.Body.Close()
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	h.Wait()

	b, err := stack.Repo.FindByExternalRef(ctx, 100, "RES-1")
	require.NoError(t, err)
	assert.Equal(t, conn.ID, b.ConnectionID)
	assert.True(t, strings.HasPrefix(b.BookingNumber, "CH-"))
	require.Len(t, b.Rooms, 1)
	assert.Len(t, b.Rooms[0].Guests, 2, "padded to occupancy")

	confirms := gw.sent("reservation_confirm")
	require.Len(t, confirms, 1)
	assert.Contains(t, confirms[0], `id="RES-1" local_id="`+b.BookingNumber+`"`)

	// a second push is idempotent
	res, err = http.Post(api.URL+"/webhooks/otagw/reservations?hotel_id=4711", "application/xml", nil)
	require.NoError(t, err)
	_ = res.Body.Close()
	h.Wait()
	var bookings int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM bookings").Scan(&bookings))
	assert.Equal(t, 1, bookings)

	// sync request -> queue -> flush -> inventory push
	_, err = db.Exec("INSERT INTO room_inventory (hotel_id, room_type_id, day, available) VALUES (100, 1, '2030-01-10', 4)")
	require.NoError(t, err)
	res, err = http.Post(api.URL+"/v1/hotels/100/sync-requests", "application/json",
		strings.NewReader(`{"roomTypeId":1,"fields":["availability"],"from":"2030-01-10T00:00:00Z"}`))
	require.NoError(t, err)
	_ = res.Body.Close()
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	notifier.Close()

	rep, err := stack.Processor.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Claimed)
	assert.Equal(t, 1, rep.Synced)

	inv := gw.sent("inventory")
	require.Len(t, inv, 1)
	assert.Contains(t, inv[0], `<day date="10.01.2030"><roomtype id="R1" availability="4" stopsale="0">`)

	var left int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sync_queue").Scan(&left))
	assert.Zero(t, left)

	// every exchange is audited, never with the plain password
	var logged, leaked int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM channel_logs WHERE connection_id = ?", conn.ID).Scan(&logged))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM channel_logs WHERE request_body LIKE '%s3cr3t-pass%'").Scan(&leaked))
	assert.GreaterOrEqual(t, logged, 5)
	assert.Zero(t, leaked)

	var rqid string
	require.NoError(t, db.QueryRow("SELECT correlation_id FROM channel_logs WHERE operation = 'inventory'").Scan(&rqid))
	assert.Equal(t, "rq-e2e", rqid)

	got, err := stack.Registry.Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastSync.Reservations)
	assert.NotNil(t, got.LastSync.Inventory)
}
