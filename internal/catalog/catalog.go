// Package catalog imports a school's roster and question bank from YAML or
// JSON files.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pavelanni/examhall/internal/model"
)

const dateLayout = "2006-01-02"

// Catalog is the content of one import file. Every entity belongs to Tenant.
// Sections, questions and categories refer to other entries by subject code,
// term name and username.
type Catalog struct {
	Tenant    string     `yaml:"tenant" json:"tenant" validate:"required"`
	Users     []User     `yaml:"users" json:"users" validate:"dive"`
	Subjects  []Subject  `yaml:"subjects" json:"subjects" validate:"dive"`
	Terms     []Term     `yaml:"terms" json:"terms" validate:"dive"`
	Sections  []Section  `yaml:"sections" json:"sections" validate:"dive"`
	Questions []Question `yaml:"questions" json:"questions" validate:"dive"`
	Parents   []Parent   `yaml:"parents" json:"parents" validate:"dive"`
}

type User struct {
	Username    string `yaml:"username" json:"username" validate:"required"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Role        string `yaml:"role" json:"role" validate:"required,oneof=student teacher admin parent"`
}

type Subject struct {
	Code       string     `yaml:"code" json:"code" validate:"required"`
	Name       string     `yaml:"name" json:"name" validate:"required"`
	Categories []Category `yaml:"categories" json:"categories" validate:"dive"`
}

type Category struct {
	Name   string  `yaml:"name" json:"name" validate:"required"`
	Weight float64 `yaml:"weight" json:"weight" validate:"gte=0,lte=1"`
	Order  int     `yaml:"order" json:"order"`
}

type Term struct {
	Name     string `yaml:"name" json:"name" validate:"required"`
	StartsOn string `yaml:"starts_on" json:"starts_on" validate:"required,datetime=2006-01-02"`
	EndsOn   string `yaml:"ends_on" json:"ends_on" validate:"required,datetime=2006-01-02"`
}

type Section struct {
	Name     string   `yaml:"name" json:"name" validate:"required"`
	Subject  string   `yaml:"subject" json:"subject" validate:"required"`
	Term     string   `yaml:"term" json:"term"`
	Teacher  string   `yaml:"teacher" json:"teacher"`
	Students []string `yaml:"students" json:"students"`
}

type Question struct {
	Subject       string        `yaml:"subject" json:"subject" validate:"required"`
	Type          string        `yaml:"type" json:"type" validate:"required"`
	Content       string        `yaml:"content" json:"content" validate:"required"`
	CorrectAnswer *string       `yaml:"correct_answer" json:"correct_answer"`
	Options       model.Options `yaml:"options" json:"options"`
	Points        float64       `yaml:"points" json:"points" validate:"gte=0"`
	Tags          model.Tags    `yaml:"tags" json:"tags"`
}

// Parent links a parent account to a student by username.
type Parent struct {
	Parent   string `yaml:"parent" json:"parent" validate:"required"`
	Student  string `yaml:"student" json:"student" validate:"required"`
	Verified bool   `yaml:"verified" json:"verified"`
}

// Repository is the persistence the importer writes to. *store.Store implements it.
type Repository interface {
	GetImportedFileHash(ctx context.Context, path string) (string, error)
	SetImportedFileHash(ctx context.Context, path, hash string) error

	CreateUser(ctx context.Context, u model.User) (string, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	CreateSubject(ctx context.Context, sub model.Subject) (string, error)
	GetSubjectByCode(ctx context.Context, tenantID, code string) (*model.Subject, error)
	CreateGradeCategory(ctx context.Context, c model.GradeCategory) (string, error)
	CreateTerm(ctx context.Context, t model.Term) (string, error)
	CreateSection(ctx context.Context, sec model.Section) (string, error)
	Enroll(ctx context.Context, sectionID, studentID string) error
	InsertQuestion(ctx context.Context, q model.Question) (string, error)
	LinkParent(ctx context.Context, link model.ParentChild) error
}

// Result counts what an import created.
type Result struct {
	Skipped   bool
	Users     int
	Subjects  int
	Terms     int
	Sections  int
	Questions int
	Parents   int
}

var validate = validator.New()

// Parse decodes a catalog file by extension (.yaml, .yml or .json).
func Parse(path string, data []byte) (*Catalog, error) {
	var c Catalog
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", filepath.Ext(path))
	}
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	for i, q := range c.Questions {
		qtype, err := model.ParseQuestionType(q.Type)
		if err == nil {
			err = checkAnswerKey(qtype, q)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid catalog %s: question %d: %w", path, i, err)
		}
	}
	return &c, nil
}

// checkAnswerKey rejects objective questions that could never be answered correctly.
func checkAnswerKey(qtype model.QuestionType, q Question) error {
	switch {
	case qtype.IsChoice():
		if _, ok := q.Options.Correct(); !ok {
			return fmt.Errorf("%s question has no correct option", qtype)
		}
	case qtype.IsFreeText():
		if q.CorrectAnswer == nil || strings.TrimSpace(*q.CorrectAnswer) == "" {
			return fmt.Errorf("%s question has no correct_answer", qtype)
		}
	}
	return nil
}

// Import loads a catalog file once. A file whose content was imported before
// is skipped; a file that changed since its import is skipped with a warning,
// since re-importing would duplicate questions already used by exams.
func Import(ctx context.Context, r Repository, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ImportData(ctx, r, path, data)
}

// ImportData is Import for content already in memory. path identifies the
// file for deduplication and selects the format by extension.
func ImportData(ctx context.Context, r Repository, path string, data []byte) (Result, error) {
	hash := sha256sum(data)
	storedHash, err := r.GetImportedFileHash(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash {
		slog.Info("catalog file unchanged, skipping", "path", path)
		return Result{Skipped: true}, nil
	}
	if storedHash != "" {
		slog.Warn("catalog file changed since last import, skipping", "path", path)
		return Result{Skipped: true}, nil
	}

	c, err := Parse(path, data)
	if err != nil {
		return Result{}, err
	}
	res, err := load(ctx, r, c)
	if err != nil {
		return res, fmt.Errorf("import %s: %w", path, err)
	}

	if err := r.SetImportedFileHash(ctx, path, hash); err != nil {
		return res, fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("imported catalog", "path", path,
		"users", res.Users, "subjects", res.Subjects, "terms", res.Terms,
		"sections", res.Sections, "questions", res.Questions, "parents", res.Parents)
	return res, nil
}

// loader resolves references inside one catalog, reusing subjects and users
// that already exist.
type loader struct {
	r        Repository
	tenant   string
	users    map[string]string
	subjects map[string]string
	terms    map[string]string
	res      Result
}

func load(ctx context.Context, r Repository, c *Catalog) (Result, error) {
	l := &loader{
		r:        r,
		tenant:   c.Tenant,
		users:    make(map[string]string),
		subjects: make(map[string]string),
		terms:    make(map[string]string),
	}
	for _, u := range c.Users {
		if _, err := l.user(ctx, u); err != nil {
			return l.res, err
		}
	}
	for _, s := range c.Subjects {
		if err := l.subject(ctx, s); err != nil {
			return l.res, err
		}
	}
	for _, t := range c.Terms {
		if err := l.term(ctx, t); err != nil {
			return l.res, err
		}
	}
	for _, s := range c.Sections {
		if err := l.section(ctx, s); err != nil {
			return l.res, err
		}
	}
	for _, q := range c.Questions {
		if err := l.question(ctx, q); err != nil {
			return l.res, err
		}
	}
	for _, p := range c.Parents {
		if err := l.parent(ctx, p); err != nil {
			return l.res, err
		}
	}
	return l.res, nil
}

func (l *loader) user(ctx context.Context, u User) (string, error) {
	if id, ok := l.users[u.Username]; ok {
		return id, nil
	}
	existing, err := l.r.GetUserByUsername(ctx, u.Username)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if existing.TenantID != l.tenant {
			return "", fmt.Errorf("user %q belongs to another tenant", u.Username)
		}
		l.users[u.Username] = existing.ID
		return existing.ID, nil
	}
	id, err := l.r.CreateUser(ctx, model.User{
		TenantID:    l.tenant,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        model.UserRole(u.Role),
		Active:      true,
	})
	if err != nil {
		return "", err
	}
	l.users[u.Username] = id
	l.res.Users++
	return id, nil
}

func (l *loader) userID(ctx context.Context, username string) (string, error) {
	if id, ok := l.users[username]; ok {
		return id, nil
	}
	existing, err := l.r.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if existing == nil || existing.TenantID != l.tenant {
		return "", fmt.Errorf("unknown user %q", username)
	}
	l.users[username] = existing.ID
	return existing.ID, nil
}

func (l *loader) subject(ctx context.Context, s Subject) error {
	existing, err := l.r.GetSubjectByCode(ctx, l.tenant, s.Code)
	if err != nil {
		return err
	}
	if existing != nil {
		l.subjects[s.Code] = existing.ID
		return nil
	}
	id, err := l.r.CreateSubject(ctx, model.Subject{TenantID: l.tenant, Code: s.Code, Name: s.Name})
	if err != nil {
		return err
	}
	l.subjects[s.Code] = id
	l.res.Subjects++

	for _, c := range s.Categories {
		if _, err := l.r.CreateGradeCategory(ctx, model.GradeCategory{
			SubjectID: id,
			Name:      c.Name,
			Weight:    c.Weight,
			SortOrder: c.Order,
		}); err != nil {
			return fmt.Errorf("category %q of %s: %w", c.Name, s.Code, err)
		}
	}
	return nil
}

func (l *loader) subjectID(ctx context.Context, code string) (string, error) {
	if id, ok := l.subjects[code]; ok {
		return id, nil
	}
	existing, err := l.r.GetSubjectByCode(ctx, l.tenant, code)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", fmt.Errorf("unknown subject %q", code)
	}
	l.subjects[code] = existing.ID
	return existing.ID, nil
}

func (l *loader) term(ctx context.Context, t Term) error {
	starts, err := time.Parse(dateLayout, t.StartsOn)
	if err != nil {
		return fmt.Errorf("term %q: %w", t.Name, err)
	}
	ends, err := time.Parse(dateLayout, t.EndsOn)
	if err != nil {
		return fmt.Errorf("term %q: %w", t.Name, err)
	}
	if ends.Before(starts) {
		return fmt.Errorf("term %q ends before it starts", t.Name)
	}
	id, err := l.r.CreateTerm(ctx, model.Term{TenantID: l.tenant, Name: t.Name, StartsOn: starts, EndsOn: ends})
	if err != nil {
		return err
	}
	l.terms[t.Name] = id
	l.res.Terms++
	return nil
}

func (l *loader) section(ctx context.Context, s Section) error {
	sec := model.Section{TenantID: l.tenant, Name: s.Name}
	var err error
	if sec.SubjectID, err = l.subjectID(ctx, s.Subject); err != nil {
		return fmt.Errorf("section %q: %w", s.Name, err)
	}
	if s.Term != "" {
		id, ok := l.terms[s.Term]
		if !ok {
			return fmt.Errorf("section %q: unknown term %q", s.Name, s.Term)
		}
		sec.TermID = &id
	}
	if s.Teacher != "" {
		id, err := l.userID(ctx, s.Teacher)
		if err != nil {
			return fmt.Errorf("section %q: %w", s.Name, err)
		}
		sec.TeacherID = &id
	}

	sectionID, err := l.r.CreateSection(ctx, sec)
	if err != nil {
		return err
	}
	l.res.Sections++

	for _, username := range s.Students {
		studentID, err := l.userID(ctx, username)
		if err != nil {
			return fmt.Errorf("section %q: %w", s.Name, err)
		}
		if err := l.r.Enroll(ctx, sectionID, studentID); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) question(ctx context.Context, q Question) error {
	subjectID, err := l.subjectID(ctx, q.Subject)
	if err != nil {
		return err
	}
	qtype, _ := model.ParseQuestionType(q.Type)
	if _, err := l.r.InsertQuestion(ctx, model.Question{
		TenantID:      l.tenant,
		SubjectID:     subjectID,
		Type:          qtype,
		Content:       q.Content,
		CorrectAnswer: q.CorrectAnswer,
		Options:       q.Options,
		Points:        q.Points,
		Tags:          q.Tags,
	}); err != nil {
		return err
	}
	l.res.Questions++
	return nil
}

func (l *loader) parent(ctx context.Context, p Parent) error {
	parentID, err := l.userID(ctx, p.Parent)
	if err != nil {
		return fmt.Errorf("parent link: %w", err)
	}
	studentID, err := l.userID(ctx, p.Student)
	if err != nil {
		return fmt.Errorf("parent link: %w", err)
	}
	if err := l.r.LinkParent(ctx, model.ParentChild{ParentID: parentID, StudentID: studentID, Verified: p.Verified}); err != nil {
		return err
	}
	l.res.Parents++
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
