package requests

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/notify"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/repository/memory"
	"github.com/CarlosSalas01/SistemaDeReplicas/internal/storage"
)

var (
	admin = domain.Identity{UserID: 1, Username: "root", Role: domain.RoleAdmin}
	ana   = domain.Identity{UserID: 2, Username: "ana", Role: domain.RoleUser}
	bob   = domain.Identity{UserID: 3, Username: "bob", Role: domain.RoleUser}
)

type recorder struct {
	mu      sync.Mutex
	entries []domain.ActivityLogEntry
}

func (r *recorder) Record(_ context.Context, e domain.ActivityLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

type notifier struct {
	events []notify.Event
}

func (n *notifier) Dispatch(ev notify.Event) { n.events = append(n.events, ev) }

type fixture struct {
	svc      Service
	store    *memory.Store
	dir      string
	recorder *recorder
	notifier *notifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	disk, err := storage.NewDiskStore(dir)
	require.NoError(t, err)
	store := memory.New()
	rec := &recorder{}
	n := &notifier{}
	svc := New(store, disk, rec, n, nil, 1<<20)
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return fixture{svc: svc, store: store, dir: dir, recorder: rec, notifier: n}
}

func upload(name, body string) Upload {
	return Upload{FileName: name, Size: int64(len(body)), Body: strings.NewReader(body)}
}

func validInput() CreateInput {
	return CreateInput{TargetServer: "tomcat-01", ApplicationName: "billing"}
}

func TestCreateStoresArtifactAndNotifies(t *testing.T) {
	f := newFixture(t)
	req, err := f.svc.Create(context.Background(), ana, validInput(), upload("Billing.WAR", "PK-archive"))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, req.Status)
	assert.Equal(t, domain.PriorityMedium, req.Priority)
	assert.Equal(t, domain.EnvDevelopment, req.Environment)
	assert.Equal(t, "Billing.WAR", req.FileName)
	assert.Equal(t, "Billing_1700000000000.war", req.FilePath)

	data, err := os.ReadFile(f.dir + "/" + req.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "PK-archive", string(data))

	require.Len(t, f.recorder.entries, 1)
	assert.Equal(t, domain.EventWarUpload, f.recorder.entries[0].EventType)
	require.Len(t, f.notifier.events, 1)
	created, ok := f.notifier.events[0].(notify.RequestCreated)
	require.True(t, ok)
	assert.Equal(t, req.ID, created.Request.ID)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]struct {
		in   CreateInput
		file Upload
	}{
		"missing target":  {CreateInput{ApplicationName: "x"}, upload("a.war", "x")},
		"bad priority":    {CreateInput{TargetServer: "t", ApplicationName: "x", Priority: "asap"}, upload("a.war", "x")},
		"bad environment": {CreateInput{TargetServer: "t", ApplicationName: "x", Environment: "prod"}, upload("a.war", "x")},
		"not a war":       {validInput(), upload("a.jar", "x")},
		"empty file":      {validInput(), upload("a.war", "")},
		"too large":       {validInput(), Upload{FileName: "a.war", Size: 2 << 20, Body: strings.NewReader("x")}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, ana, tc.in, tc.file)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
	assert.Empty(t, f.notifier.events)
}

func TestCreateRemovesArtifactWhenInsertFails(t *testing.T) {
	f := newFixture(t)
	f.store.FailWrites(errors.New("db down"))

	_, err := f.svc.Create(context.Background(), ana, validInput(), upload("app.war", "x"))
	assert.Equal(t, domain.KindPersistence, domain.KindOf(err))

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, f.notifier.events)
}

func TestGetEnforcesOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.Create(ctx, ana, validInput(), upload("app.war", "x"))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, ana, req.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, admin, req.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, bob, req.ID)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
	_, err = f.svc.Get(ctx, admin, 999)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(ctx, ana, validInput(), upload("a.war", "x"))
		require.NoError(t, err)
	}
	urgent := validInput()
	urgent.Priority = domain.PriorityUrgent
	_, err := f.svc.Create(ctx, bob, urgent, upload("b.war", "x"))
	require.NoError(t, err)

	mine, err := f.svc.ListMine(ctx, ana, ListParams{Page: domain.PageRequest{Page: 1, Limit: 2}})
	require.NoError(t, err)
	assert.Len(t, mine.Requests, 2)
	assert.Equal(t, 3, mine.Pagination.Total)
	assert.Equal(t, 2, mine.Pagination.TotalPages)
	assert.Greater(t, mine.Requests[0].ID, mine.Requests[1].ID)

	_, err = f.svc.ListAll(ctx, ana, ListParams{})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	all, err := f.svc.ListAll(ctx, admin, ListParams{Priority: domain.PriorityUrgent})
	require.NoError(t, err)
	require.Len(t, all.Requests, 1)
	assert.Equal(t, "bob", all.Requests[0].Username)

	_, err = f.svc.ListAll(ctx, admin, ListParams{Status: "done"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	pending, err := f.svc.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, pending)

	stats, err := f.svc.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.PendingRequests)
	assert.Equal(t, 1, stats.ByPriority[domain.PriorityUrgent])
}

func TestCreateSameNameSameInstantGetsDistinctKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Create(ctx, ana, validInput(), upload("app.war", "one"))
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, ana, validInput(), upload("app.war", "two"))
	require.NoError(t, err)

	assert.Equal(t, "app_1700000000000.war", first.FilePath)
	assert.NotEqual(t, first.FilePath, second.FilePath)
	data, err := os.ReadFile(f.dir + "/" + second.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestOpenArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.Create(ctx, ana, validInput(), upload("app.war", "payload"))
	require.NoError(t, err)

	_, err = f.svc.OpenArtifact(ctx, ana, req.ID)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	art, err := f.svc.OpenArtifact(ctx, admin, req.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(art.Body)
	require.NoError(t, err)
	require.NoError(t, art.Body.Close())
	assert.Equal(t, "payload", string(data))

	last := f.recorder.entries[len(f.recorder.entries)-1]
	assert.Equal(t, domain.EventFileDownloaded, last.EventType)

	require.NoError(t, os.Remove(f.dir+"/"+req.FilePath))
	_, err = f.svc.OpenArtifact(ctx, admin, req.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}
