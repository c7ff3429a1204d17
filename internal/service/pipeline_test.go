package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ahmed-826/distribution-platform/internal/domain/model"
	"github.com/ahmed-826/distribution-platform/internal/manifest"
)

const scenarioDir = "fiches/DGSN/20240305/20240305 - Дело"

// TestPipeline_SingleAttachment — продукт с одним вложением и письмом-родителем:
// одна карточка, два документа (письмо раньше вложения), три файла.
func TestPipeline_SingleAttachment(t *testing.T) {
	env := newTestEnv(t)
	data := buildZip(t, product("dump/p1", "Дело", "A").entries(t)...)

	report, err := runPipeline(t, env, data)
	if err != nil {
		t.Fatalf("Run(): %v", err)
	}
	if report.Committed != 1 || report.Skipped != 0 || report.Failed != 0 {
		t.Fatalf("отчёт: committed=%d skipped=%d failed=%d", report.Committed, report.Skipped, report.Failed)
	}
	if report.Folders != 2 || report.NotProducts != 1 {
		t.Errorf("folders=%d notProducts=%d, ожидалось 2 и 1", report.Folders, report.NotProducts)
	}

	fiche := env.catalog.fiches[0]
	if fiche.Path != scenarioDir+"/report.docx" {
		t.Errorf("путь карточки = %q", fiche.Path)
	}

	docs := env.catalog.docsOf(fiche.ID)
	if len(docs) != 2 {
		t.Fatalf("документов = %d, ожидалось 2", len(docs))
	}
	msg, att := docs[0], docs[1]
	if msg.Type != model.DocumentMessage || att.Type != model.DocumentAttachment {
		t.Fatalf("порядок документов: %s, %s", msg.Type, att.Type)
	}
	if att.MessageID == nil || *att.MessageID != msg.ID {
		t.Error("вложение должно ссылаться на письмо той же фиксации")
	}
	if att.OriginalPath != nil {
		t.Errorf("оригинал совпадает с документом, OriginalPath = %q", *att.OriginalPath)
	}

	for _, p := range []string{
		scenarioDir + "/report.docx",
		scenarioDir + "/1 - report.pdf",
		scenarioDir + "/originals/1 - mail.eml",
	} {
		if !env.store.FileExists(p) {
			t.Errorf("файл %s не записан", p)
		}
	}
	got, err := env.store.ReadFile(scenarioDir + "/originals/1 - mail.eml")
	if err != nil || string(got) != "eml-A" {
		t.Errorf("содержимое письма = %q, %v", got, err)
	}
}

// TestPipeline_NestedArchiveInSource — вложенный ZIP в Source/ обходится
// как отдельный архив той же загрузки.
func TestPipeline_NestedArchiveInSource(t *testing.T) {
	env := newTestEnv(t)

	inner := buildZip(t, product("p2", "Вложенное дело", "inner").entries(t)...)
	entries := append(product("outer", "Дело", "outer").entries(t),
		zipEntry{"outer/Source/inner.zip", inner})

	report, err := runPipeline(t, env, buildZip(t, entries...))
	if err != nil {
		t.Fatalf("Run(): %v", err)
	}
	if report.Committed != 2 {
		t.Fatalf("committed = %d, ожидалось 2 (outcomes: %v)", report.Committed, outcomeCodes(report))
	}
	if report.Outcomes[0].Archive != "" || report.Outcomes[0].Folder != "outer" {
		t.Errorf("первый продукт: %q / %q", report.Outcomes[0].Archive, report.Outcomes[0].Folder)
	}
	if report.Outcomes[1].Archive != "outer/Source/inner.zip" || report.Outcomes[1].Folder != "p2" {
		t.Errorf("вложенный продукт: %q / %q", report.Outcomes[1].Archive, report.Outcomes[1].Folder)
	}
}

// TestPipeline_CountMismatchContinues — продукт с неверным числом файлов
// пропускается, обработка идёт дальше.
func TestPipeline_CountMismatchContinues(t *testing.T) {
	env := newTestEnv(t)

	bad := product("a", "Дело А", "bad")
	bad.files = 2
	entries := append(bad.entries(t), product("b", "Дело Б", "good").entries(t)...)

	report, err := runPipeline(t, env, buildZip(t, entries...))
	if err != nil {
		t.Fatalf("Run(): %v", err)
	}

	want := []string{string(manifest.ReasonFileCountMismatch), string(model.OutcomeCommitted)}
	if got := outcomeCodes(report); !equalStrings(got, want) {
		t.Fatalf("исходы = %v, ожидалось %v", got, want)
	}
	if report.Outcomes[0].Result != model.OutcomeSkipped {
		t.Errorf("результат первого продукта = %s", report.Outcomes[0].Result)
	}
	if env.catalog.ficheCount() != 1 {
		t.Errorf("карточек = %d, ожидалась 1", env.catalog.ficheCount())
	}
	if len(env.catalog.outcomes) != 2 {
		t.Errorf("записей журнала = %d, ожидалось 2", len(env.catalog.outcomes))
	}
}

// TestPipeline_DifferentOriginalStored — оригинал, отличающийся от
// документа, сохраняется в originals/.
func TestPipeline_DifferentOriginalStored(t *testing.T) {
	env := newTestEnv(t)

	p := product("dump/p1", "Дело", "A")
	entries := append(p.entries(t), zipEntry{"dump/p1/1 - report.pdf", []byte("normalized")})

	report, err := runPipeline(t, env, buildZip(t, entries...))
	if err != nil || report.Committed != 1 {
		t.Fatalf("Run(): %v, committed=%d", err, report.Committed)
	}

	docs := env.catalog.docsOf(env.catalog.fiches[0].ID)
	att := docs[1]
	if att.OriginalPath == nil || *att.OriginalPath != scenarioDir+"/originals/1 - report.pdf" {
		t.Fatalf("OriginalPath = %v", att.OriginalPath)
	}
	got, err := env.store.ReadFile(*att.OriginalPath)
	if err != nil || string(got) != "pdf-A" {
		t.Errorf("оригинал = %q, %v", got, err)
	}
	if got, _ := env.store.ReadFile(att.Path); string(got) != "normalized" {
		t.Errorf("документ = %q", got)
	}
}

// TestPipeline_PathCollisionIsFatal — коллизия путей прерывает обработку,
// уже зафиксированные продукты остаются.
func TestPipeline_PathCollisionIsFatal(t *testing.T) {
	env := newTestEnv(t)

	entries := append(product("a", "Дело", "1").entries(t), product("b", "Дело", "2").entries(t)...)
	entries = append(entries, product("c", "Другое дело", "3").entries(t)...)

	report, err := runPipeline(t, env, buildZip(t, entries...))
	if !errors.Is(err, ErrFatal) || !errors.Is(err, ErrPathCollision) {
		t.Fatalf("ожидалась фатальная ErrPathCollision, получено %v", err)
	}
	want := []string{string(model.OutcomeCommitted), CodePathCollision}
	if got := outcomeCodes(report); !equalStrings(got, want) {
		t.Fatalf("исходы = %v, ожидалось %v", got, want)
	}
	if env.catalog.ficheCount() != 1 {
		t.Errorf("карточек = %d, ожидалась 1", env.catalog.ficheCount())
	}
	if got, _ := env.store.ReadFile(scenarioDir + "/report.docx"); string(got) != "docx-1" {
		t.Errorf("файл первой карточки перезаписан: %q", got)
	}
	if msg := report.Outcomes[1].Message; strings.Count(msg, ErrPathCollision.Error()) != 1 {
		t.Errorf("причина коллизии повторяется: %q", msg)
	}
}

// TestPipeline_DuplicatePlanPathSkipped — совпадение путей внутри одного
// продукта пропускает только этот продукт, обход продолжается.
func TestPipeline_DuplicatePlanPathSkipped(t *testing.T) {
	env := newTestEnv(t)

	// Оригинал вложения назван как письмо-родитель и отличается от документа:
	// оба файла попадают в originals/1 - mail.eml
	bad := product("a", "Дело А", "bad")
	bad.originalName = "mail.eml"
	entries := append(bad.entries(t), zipEntry{"a/1 - report.pdf", []byte("normalized")})
	entries = append(entries, product("b", "Дело Б", "good").entries(t)...)

	report, err := runPipeline(t, env, buildZip(t, entries...))
	if err != nil {
		t.Fatalf("Run(): %v", err)
	}
	want := []string{CodeDuplicatePlanPath, string(model.OutcomeCommitted)}
	if got := outcomeCodes(report); !equalStrings(got, want) {
		t.Fatalf("исходы = %v, ожидалось %v", got, want)
	}
	if report.Outcomes[0].Result != model.OutcomeSkipped {
		t.Errorf("результат первого продукта = %s", report.Outcomes[0].Result)
	}
	if env.catalog.ficheCount() != 1 {
		t.Errorf("карточек = %d, ожидалась 1", env.catalog.ficheCount())
	}
}

// TestPipeline_BrokenNestedArchive — нечитаемый вложенный архив
// записывается как failed, остальные продукты обрабатываются.
func TestPipeline_BrokenNestedArchive(t *testing.T) {
	env := newTestEnv(t)

	entries := append(product("a", "Дело", "A").entries(t),
		zipEntry{"a/Source/broken.zip", []byte("not a zip")})

	report, err := runPipeline(t, env, buildZip(t, entries...))
	if err != nil {
		t.Fatalf("Run(): %v", err)
	}
	want := []string{string(model.OutcomeCommitted), CodeInvalidNestedArchive}
	if got := outcomeCodes(report); !equalStrings(got, want) {
		t.Fatalf("исходы = %v, ожидалось %v", got, want)
	}
	if report.Outcomes[1].Archive != "a/Source/broken.zip" {
		t.Errorf("метка архива = %q", report.Outcomes[1].Archive)
	}
}

// TestPipeline_UnknownSource — продукт неизвестного источника пропускается.
func TestPipeline_UnknownSource(t *testing.T) {
	env := newTestEnv(t)
	delete(env.catalog.sources, "DGSN")

	report, err := runPipeline(t, env, buildZip(t, product("a", "Дело", "A").entries(t)...))
	if err != nil {
		t.Fatalf("Run(): %v", err)
	}
	want := []string{string(manifest.ReasonUnknownSource)}
	if got := outcomeCodes(report); !equalStrings(got, want) {
		t.Fatalf("исходы = %v, ожидалось %v", got, want)
	}
}

func TestPipeline_InvalidTopLevelArchive(t *testing.T) {
	env := newTestEnv(t)

	_, err := runPipeline(t, env, []byte("not a zip"))
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("ожидалась ErrFatal, получено %v", err)
	}
}

func TestPipeline_Cancelled(t *testing.T) {
	env := newTestEnv(t)
	data := buildZip(t, product("a", "Дело", "A").entries(t)...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := &model.RunReport{}
	err := env.pipeline.Run(ctx, uuid.New(), data, report)
	if !errors.Is(err, ErrFatal) || !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидалась отмена, получено %v", err)
	}
	if report.Committed != 0 {
		t.Errorf("после отмены зафиксировано %d продуктов", report.Committed)
	}
}
