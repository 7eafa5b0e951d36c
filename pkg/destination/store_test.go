package destination

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/David-Botos/story-ingress/pkg/connector"
	"github.com/David-Botos/story-ingress/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sqlx.Open("sqlite3", connector.SQLiteDSN(filepath.Join(t.TempDir(), "dest.db")))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, zaptest.NewLogger(t))
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func insertStoryteller(t *testing.T, store *Store, id, externalID, name string) {
	t.Helper()
	row := Row{"id": id, "display_name": name}
	if externalID != "" {
		row["external_id"] = externalID
	}
	require.NoError(t, store.Insert(context.Background(), "storytellers", row, nil))
}

func TestSchemaStatements(t *testing.T) {
	statements := SchemaStatements()
	assert.Len(t, statements, 14)
	for _, stmt := range statements {
		assert.NotContains(t, stmt, ";")
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureSchema(context.Background()))
}

func TestInsertAndFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertStoryteller(t, store, "st-1", "rec123", "Cheryl Ann Mara")

	id, found, err := store.FindIDByExternalID(ctx, "storytellers", "rec123")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "st-1", id)

	_, found, err = store.FindIDByExternalID(ctx, "storytellers", "rec999")
	require.NoError(t, err)
	assert.False(t, found)

	row, err := store.FindOne(ctx, "storytellers", Row{"external_id": "rec123"})
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Cheryl Ann Mara", row["display_name"])

	row, err = store.FindOne(ctx, "storytellers", Row{"external_id": "nope"})
	require.NoError(t, err)
	assert.Nil(t, row)

	n, err := store.Count(ctx, "storytellers", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsert_ClassifiesConstraintErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertStoryteller(t, store, "st-1", "rec123", "Cheryl Ann Mara")

	err := store.Insert(ctx, "storytellers", Row{"id": "st-2", "external_id": "rec123", "display_name": "Dup"}, nil)
	assert.True(t, errors.Is(err, ErrUniqueViolation), "got %v", err)

	err = store.Insert(ctx, "transcripts", Row{"id": "tr-1", "external_id": "recT", "storyteller_id": "missing"}, nil)
	assert.True(t, errors.Is(err, ErrForeignKeyViolation), "got %v", err)

	err = store.Insert(ctx, "storytellers", Row{"id": "st-3", "external_id": "recX"}, nil)
	assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
}

func TestInsert_JoinRowsAreAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertStoryteller(t, store, "st-1", "recA", "Ana")

	err := store.Insert(ctx, "stories", Row{"id": "story-1", "external_id": "recS1", "title": "River"}, []JoinRow{
		{Table: "story_storytellers", OwnerColumn: "story_id", TargetColumn: "storyteller_id", OwnerID: "story-1", TargetID: "st-1"},
	})
	require.NoError(t, err)

	err = store.Insert(ctx, "stories", Row{"id": "story-2", "external_id": "recS2", "title": "Hill"}, []JoinRow{
		{Table: "story_storytellers", OwnerColumn: "story_id", TargetColumn: "storyteller_id", OwnerID: "story-2", TargetID: "st-missing"},
	})
	assert.True(t, errors.Is(err, ErrForeignKeyViolation), "got %v", err)

	n, err := store.Count(ctx, "stories", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Count(ctx, "story_storytellers", Row{"story_id": "story-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsert_RejectsUnsafeIdentifiers(t *testing.T) {
	store := newTestStore(t)

	err := store.Insert(context.Background(), "storytellers; DROP TABLE stories", Row{"id": "x"}, nil)
	assert.Error(t, err)

	_, err = store.Count(context.Background(), "themes", Row{"name = name OR 1": 1})
	assert.Error(t, err)
}

func TestLegacyCandidatesAndClaim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertStoryteller(t, store, "st-2", "", "Cheryl Mara")
	insertStoryteller(t, store, "st-1", "", "Cheryl Ann Mara")
	insertStoryteller(t, store, "st-3", "recLinked", "Ben")

	candidates, err := store.ListLegacyCandidates(ctx, "storytellers", "display_name")
	require.NoError(t, err)
	assert.Equal(t, []model.MatchCandidate{
		{DestinationID: "st-1", DisplayName: "Cheryl Ann Mara"},
		{DestinationID: "st-2", DisplayName: "Cheryl Mara"},
	}, candidates)

	claimed, err := store.ClaimExternalID(ctx, "storytellers", "st-1", "recC")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.ClaimExternalID(ctx, "storytellers", "st-1", "recOther")
	require.NoError(t, err)
	assert.False(t, claimed)

	n, err := store.Count(ctx, "storytellers", Row{"external_id": nil})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertStoryteller(t, store, "st-1", "rec1", "Ana")
	require.NoError(t, store.Update(ctx, "storytellers", "st-1", Row{"bio": "Weaver", "location": "Coast"}))

	row, err := store.FindOne(ctx, "storytellers", Row{"id": "st-1"})
	require.NoError(t, err)
	assert.Equal(t, "Weaver", row["bio"])
	assert.Equal(t, "Coast", row["location"])
}

func TestResolveIDsAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertStoryteller(t, store, "st-1", "rec1", "Ana")
	insertStoryteller(t, store, "st-2", "rec2", "Ben")

	resolved, err := store.ResolveIDs(ctx, "storytellers", []string{"rec1", "rec2", "rec3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"rec1": "st-1", "rec2": "st-2"}, resolved)

	n, err := store.CountExternalIDs(ctx, "storytellers", []string{"rec2", "rec3"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	empty, err := store.ResolveIDs(ctx, "storytellers", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInsertLink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, "stories", Row{"id": "story-1", "external_id": "recS", "title": "River"}, nil))
	require.NoError(t, store.Insert(ctx, "themes", Row{"id": "theme-1", "external_id": "recT", "name": "Water"}, nil))

	link := JoinRow{Table: "story_themes", OwnerColumn: "story_id", TargetColumn: "theme_id", OwnerID: "story-1", TargetID: "theme-1"}

	created, err := store.InsertLink(ctx, link)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.InsertLink(ctx, link)
	require.NoError(t, err)
	assert.False(t, created)

	link.TargetID = "theme-missing"
	_, err = store.InsertLink(ctx, link)
	assert.True(t, errors.Is(err, ErrForeignKeyViolation), "got %v", err)
}

func TestObjectLedger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	obj, err := store.LookupObject(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, obj)

	stored := model.StoredObject{
		Fingerprint: "abc",
		StorageKey:  "attachments/st-1/abc.png",
		PublicURL:   "https://cdn.test/media/attachments/st-1/abc.png",
		ContentType: "image/png",
		ByteSize:    42,
	}
	require.NoError(t, store.RecordObject(ctx, stored))

	again := stored
	again.StorageKey = "attachments/st-2/abc.png"
	require.NoError(t, store.RecordObject(ctx, again))

	obj, err = store.LookupObject(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, stored.StorageKey, obj.StorageKey)
	assert.Equal(t, int64(42), obj.ByteSize)
}

func TestClassify_PassesThroughUnknownErrors(t *testing.T) {
	assert.Nil(t, Classify(nil))

	plain := errors.New("connection reset")
	assert.Equal(t, plain, Classify(plain))

	assert.Equal(t, ErrUniqueViolation, fromSQLState("23505"))
	assert.Equal(t, ErrForeignKeyViolation, fromSQLState("23503"))
	assert.Equal(t, ErrValidation, fromSQLState("22P02"))
	assert.Nil(t, fromSQLState("40001"))
}
