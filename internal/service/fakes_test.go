package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ahmed-826/distribution-platform/internal/archive"
	"github.com/ahmed-826/distribution-platform/internal/builder"
	"github.com/ahmed-826/distribution-platform/internal/domain/model"
	"github.com/ahmed-826/distribution-platform/internal/events"
	"github.com/ahmed-826/distribution-platform/internal/manifest"
	"github.com/ahmed-826/distribution-platform/internal/repository"
	"github.com/ahmed-826/distribution-platform/internal/storage/filestore"
	"github.com/ahmed-826/distribution-platform/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- In-memory каталог: загрузки, карточки, документы, журнал, источники ---

type memCatalog struct {
	mu       sync.Mutex
	uploads  map[uuid.UUID]*model.Upload
	fiches   []*model.Fiche
	docs     []*model.Document
	outcomes []*model.ProductOutcome
	sources  map[string]uuid.UUID
	nextID   int64
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		uploads: make(map[uuid.UUID]*model.Upload),
		sources: map[string]uuid.UUID{"DGSN": uuid.New()},
	}
}

func (c *memCatalog) docsOf(ficheID uuid.UUID) []*model.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []*model.Document
	for _, d := range c.docs {
		if d.FicheID == ficheID {
			result = append(result, d)
		}
	}
	return result
}

func (c *memCatalog) ficheCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fiches)
}

type memUploads struct{ c *memCatalog }

func (r memUploads) Create(_ context.Context, u *model.Upload) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	for _, existing := range r.c.uploads {
		if existing.Hash == u.Hash {
			return repository.ErrDuplicateHash
		}
	}
	u.ID = uuid.New()
	u.Date = time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = u.Date, u.Date
	if u.Status == "" {
		u.Status = model.UploadPending
	}
	stored := *u
	r.c.uploads[u.ID] = &stored
	return nil
}

func (r memUploads) GetByID(_ context.Context, id uuid.UUID) (*model.Upload, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	u, ok := r.c.uploads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r memUploads) GetByHash(_ context.Context, hash string) (*model.Upload, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	for _, u := range r.c.uploads {
		if u.Hash == hash {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memUploads) ListByStatus(_ context.Context, status model.UploadStatus) ([]*model.Upload, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	var result []*model.Upload
	for _, u := range r.c.uploads {
		if u.Status == status {
			copied := *u
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r memUploads) TransitionStatus(_ context.Context, id uuid.UUID, from []model.UploadStatus, to model.UploadStatus, processorID *string) (*model.Upload, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	u, ok := r.c.uploads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	for _, s := range from {
		if u.Status == s {
			u.Status = to
			if processorID != nil {
				u.ProcessorID = processorID
			}
			copied := *u
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: статус %s", repository.ErrConflict, u.Status)
}

func (r memUploads) Delete(_ context.Context, id uuid.UUID) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	u, ok := r.c.uploads[id]
	if !ok {
		return repository.ErrNotFound
	}
	if u.Status == model.UploadProcessing {
		return repository.ErrConflict
	}
	delete(r.c.uploads, id)

	removed := make(map[uuid.UUID]bool)
	fiches := r.c.fiches[:0]
	for _, f := range r.c.fiches {
		if f.UploadID == id {
			removed[f.ID] = true
			continue
		}
		fiches = append(fiches, f)
	}
	r.c.fiches = fiches

	docs := r.c.docs[:0]
	for _, d := range r.c.docs {
		if !removed[d.FicheID] {
			docs = append(docs, d)
		}
	}
	r.c.docs = docs

	outcomes := r.c.outcomes[:0]
	for _, o := range r.c.outcomes {
		if o.UploadID != id {
			outcomes = append(outcomes, o)
		}
	}
	r.c.outcomes = outcomes
	return nil
}

type memFiches struct{ c *memCatalog }

func (r memFiches) Create(_ context.Context, f *model.Fiche) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	for _, existing := range r.c.fiches {
		if existing.Hash == f.Hash {
			return repository.ErrDuplicateHash
		}
		if existing.Path == f.Path {
			return repository.ErrPathTaken
		}
	}
	f.ID = uuid.New()
	f.CreatedAt = time.Now().UTC()
	stored := *f
	r.c.fiches = append(r.c.fiches, &stored)
	return nil
}

func (r memFiches) ExistsByHash(_ context.Context, hash string) (bool, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	for _, f := range r.c.fiches {
		if f.Hash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (r memFiches) ListByUpload(_ context.Context, uploadID uuid.UUID) ([]*model.Fiche, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	var result []*model.Fiche
	for _, f := range r.c.fiches {
		if f.UploadID == uploadID {
			result = append(result, f)
		}
	}
	return result, nil
}

func (r memFiches) StoredPathsByUpload(_ context.Context, uploadID uuid.UUID) ([]string, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	owned := make(map[uuid.UUID]bool)
	var paths []string
	for _, f := range r.c.fiches {
		if f.UploadID == uploadID {
			owned[f.ID] = true
			paths = append(paths, f.Path)
		}
	}
	for _, d := range r.c.docs {
		if !owned[d.FicheID] {
			continue
		}
		paths = append(paths, d.Path)
		if d.OriginalPath != nil {
			paths = append(paths, *d.OriginalPath)
		}
	}
	return paths, nil
}

func (r memFiches) PathClaimed(_ context.Context, path string) (bool, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	for _, u := range r.c.uploads {
		if u.Path == path {
			return true, nil
		}
	}
	for _, f := range r.c.fiches {
		if f.Path == path {
			return true, nil
		}
	}
	for _, d := range r.c.docs {
		if d.Path == path || (d.OriginalPath != nil && *d.OriginalPath == path) {
			return true, nil
		}
	}
	return false, nil
}

type memDocuments struct{ c *memCatalog }

func (r memDocuments) Create(_ context.Context, d *model.Document) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	stored := *d
	r.c.docs = append(r.c.docs, &stored)
	return nil
}

func (r memDocuments) ListByFiche(_ context.Context, ficheID uuid.UUID) ([]*model.Document, error) {
	return r.c.docsOf(ficheID), nil
}

type memOutcomes struct{ c *memCatalog }

func (r memOutcomes) Record(_ context.Context, o *model.ProductOutcome) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	r.c.nextID++
	o.ID = r.c.nextID
	o.CreatedAt = time.Now().UTC()
	stored := *o
	r.c.outcomes = append(r.c.outcomes, &stored)
	return nil
}

func (r memOutcomes) ListByUpload(_ context.Context, uploadID uuid.UUID) ([]*model.ProductOutcome, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	var result []*model.ProductOutcome
	for _, o := range r.c.outcomes {
		if o.UploadID == uploadID {
			result = append(result, o)
		}
	}
	return result, nil
}

type memSources struct{ c *memCatalog }

func (r memSources) GetByName(_ context.Context, name string) (*model.Source, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	id, ok := r.c.sources[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &model.Source{ID: id, Name: name}, nil
}

func (r memSources) Create(_ context.Context, name string) (*model.Source, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if _, ok := r.c.sources[name]; ok {
		return nil, repository.ErrConflict
	}
	id := uuid.New()
	r.c.sources[name] = id
	return &model.Source{ID: id, Name: name}, nil
}

// memCommitter повторяет контракт Committer без БД: карточка и документы
// попадают в каталог, файлы пишутся в настоящий filestore.
type memCommitter struct {
	c     *memCatalog
	store *filestore.FileStore
}

func (m *memCommitter) Commit(ctx context.Context, plan *builder.Plan) (*model.Fiche, error) {
	fiche := plan.Fiche
	if err := (memFiches{m.c}).Create(ctx, &fiche); err != nil {
		return nil, classifyCommitError(err)
	}

	var written []string
	for _, f := range plan.Files {
		if _, err := m.store.WriteFile(f.Path, f.Data); err != nil {
			for _, p := range written {
				_ = m.store.DeleteFile(p)
			}
			m.dropFiche(fiche.ID)
			return nil, classifyCommitError(err)
		}
		written = append(written, f.Path)
	}

	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	ids := make([]uuid.UUID, len(plan.Documents))
	for i, pd := range plan.Documents {
		doc := pd.Document
		doc.ID = uuid.New()
		doc.FicheID = fiche.ID
		if pd.MessageRef != builder.NoMessage {
			msgID := ids[pd.MessageRef]
			doc.MessageID = &msgID
		}
		ids[i] = doc.ID
		m.c.docs = append(m.c.docs, &doc)
	}
	return &fiche, nil
}

func (m *memCommitter) dropFiche(id uuid.UUID) {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	fiches := m.c.fiches[:0]
	for _, f := range m.c.fiches {
		if f.ID != id {
			fiches = append(fiches, f)
		}
	}
	m.c.fiches = fiches
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]events.EventType, len(p.events))
	for i, e := range p.events {
		result[i] = e.Type
	}
	return result
}

// testEnv — сервис загрузок поверх in-memory каталога и настоящих
// filestore и WAL во временной директории.
type testEnv struct {
	catalog   *memCatalog
	store     *filestore.FileStore
	journal   *wal.WAL
	pipeline  *Pipeline
	publisher *recordingPublisher
	svc       *IngestService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	store, err := filestore.New(root)
	if err != nil {
		t.Fatalf("filestore.New(): %v", err)
	}
	journal, err := wal.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("wal.New(): %v", err)
	}

	c := newMemCatalog()
	lookup := NewCatalogLookup(memSources{c}, memFiches{c}, NewSourceCache(16, time.Minute))
	pipeline := NewPipeline(
		manifest.NewValidator(lookup),
		&memCommitter{c: c, store: store},
		memOutcomes{c},
		archive.Options{MaxDepth: 4, MaxEntrySize: 1 << 20},
		testLogger(),
	)
	pub := &recordingPublisher{}
	svc := NewIngestService(memUploads{c}, memFiches{c}, memDocuments{c}, memOutcomes{c},
		store, journal, pipeline, pub, 10<<20, testLogger())

	return &testEnv{
		catalog:   c,
		store:     store,
		journal:   journal,
		pipeline:  pipeline,
		publisher: pub,
		svc:       svc,
	}
}

// --- Сборка тестовых архивов ---

type zipEntry struct {
	name string
	data []byte
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("ошибка создания элемента %s: %v", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatalf("ошибка записи элемента %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("ошибка закрытия архива: %v", err)
	}
	return buf.Bytes()
}

// productSpec описывает папку-продукт с одним вложением и письмом-родителем.
type productSpec struct {
	dir     string
	object  string
	primary []byte
	pdf     []byte
	eml     []byte
	// files — сколько файлов объявить в манифесте (по умолчанию 1)
	files int
	// originalName — original.filename вложения (по умолчанию report.pdf)
	originalName string
}

func (p productSpec) manifest(t *testing.T) []byte {
	t.Helper()

	originalName := p.originalName
	if originalName == "" {
		originalName = "report.pdf"
	}
	attachment := manifest.File{
		Type:     manifest.TypeAttachment,
		Name:     manifest.FileName{Filename: "report.pdf"},
		Original: manifest.FileName{Filename: originalName},
		Content:  "текст вложения",
		Path:     "/" + p.dir,
		Parent: &manifest.Parent{
			From:     "a@example.org",
			To:       []string{"b@example.org"},
			Date:     "2024-03-04",
			Object:   "Письмо",
			Filename: "mail.eml",
			Content:  "текст письма",
		},
	}
	n := p.files
	if n == 0 {
		n = 1
	}
	files := make([]manifest.File, n)
	for i := range files {
		files[i] = attachment
	}

	raw, err := json.Marshal(manifest.Manifest{
		Index:        "dump-" + p.dir,
		Summary:      "Краткое содержание",
		Object:       p.object,
		DateGenerate: "2024-03-05T10:00:00Z",
		Source:       manifest.Source{Name: "DGSN"},
		Files:        files,
	})
	if err != nil {
		t.Fatalf("ошибка сериализации манифеста: %v", err)
	}
	return raw
}

func (p productSpec) entries(t *testing.T) []zipEntry {
	t.Helper()
	return []zipEntry{
		{p.dir + "/data.json", p.manifest(t)},
		{p.dir + "/report.docx", p.primary},
		{p.dir + "/Source/1-report.pdf", p.pdf},
		{p.dir + "/Source/1-mail.eml", p.eml},
	}
}

func product(dir, object, tag string) productSpec {
	return productSpec{
		dir:     dir,
		object:  object,
		primary: []byte("docx-" + tag),
		pdf:     []byte("pdf-" + tag),
		eml:     []byte("eml-" + tag),
	}
}

func runPipeline(t *testing.T, env *testEnv, data []byte) (*model.RunReport, error) {
	t.Helper()
	report := &model.RunReport{}
	err := env.pipeline.Run(context.Background(), uuid.New(), data, report)
	return report, err
}

func outcomeCodes(report *model.RunReport) []string {
	codes := make([]string, len(report.Outcomes))
	for i, o := range report.Outcomes {
		if o.Result == model.OutcomeCommitted {
			codes[i] = string(o.Result)
			continue
		}
		codes[i] = o.Code
	}
	return codes
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var errLookup = errors.New("БД недоступна")
