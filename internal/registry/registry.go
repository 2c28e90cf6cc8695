// Package registry stores the type and status code to display name tables.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrMappingInUse is returned when a code is still referenced by a unit.
	ErrMappingInUse = errors.New("mapping in use")
	// ErrUnknownCode is returned when a code has no mapping.
	ErrUnknownCode = errors.New("unknown code")
	// ErrUnknownKind is returned for a table other than type or status.
	ErrUnknownKind = errors.New("unknown mapping kind")
)

// Kind selects one of the mapping tables.
type Kind string

const (
	KindType   Kind = "type"
	KindStatus Kind = "status"
)

// ParseKind accepts "type" or "status".
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindType, KindStatus:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Mapping is one code to name row.
type Mapping struct {
	Kind string `gorm:"primaryKey;size:16" json:"kind"`
	Code string `gorm:"primaryKey;size:64" json:"code"`
	Name string `gorm:"size:128;not null" json:"name"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (Mapping) TableName() string { return "name_mappings" }

// UsageChecker reports whether live units reference a code.
type UsageChecker interface {
	UsesType(code string) bool
	UsesStatus(code string) bool
}

// Registry is a gorm backed mapping store.
type Registry struct {
	db    *gorm.DB
	usage UsageChecker
	log   *slog.Logger
}

// Open connects to a SQLite database at path. An empty path opens a private
// in-memory database.
func Open(path string, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := path
	memory := path == ""
	if memory {
		dsn = fmt.Sprintf("file:registry-%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if memory {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("registry sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&Mapping{}); err != nil {
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	if memory {
		log.Info("using in-memory mapping registry")
	} else {
		log.Info("using mapping registry", "path", path)
	}
	return &Registry{db: db, log: log}, nil
}

// SetUsage installs the checker consulted before deletes.
func (r *Registry) SetUsage(u UsageChecker) { r.usage = u }

// Seed inserts the given tables, keeping rows that already exist.
func (r *Registry) Seed(ctx context.Context, types, statuses map[string]string) error {
	var rows []Mapping
	for code, name := range types {
		rows = append(rows, Mapping{Kind: string(KindType), Code: code, Name: name})
	}
	for code, name := range statuses {
		rows = append(rows, Mapping{Kind: string(KindStatus), Code: code, Name: name})
	}
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("seed registry: %w", err)
	}
	return nil
}

// Set creates or renames a mapping.
func (r *Registry) Set(ctx context.Context, kind Kind, code, name string) error {
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}
	if code == "" || name == "" {
		return fmt.Errorf("code and name required")
	}
	m := Mapping{Kind: string(kind), Code: code, Name: name}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("set %s mapping %q: %w", kind, code, err)
	}
	r.log.Info("mapping set", "kind", kind, "code", code, "name", name)
	return nil
}

// Delete removes a mapping unless a unit still uses the code.
func (r *Registry) Delete(ctx context.Context, kind Kind, code string) error {
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}
	if r.inUse(kind, code) {
		return fmt.Errorf("%w: %s %q is referenced by a unit", ErrMappingInUse, kind, code)
	}
	res := r.db.WithContext(ctx).Where("kind = ? AND code = ?", string(kind), code).Delete(&Mapping{})
	if res.Error != nil {
		return fmt.Errorf("delete %s mapping %q: %w", kind, code, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %q", ErrUnknownCode, kind, code)
	}
	r.log.Info("mapping deleted", "kind", kind, "code", code)
	return nil
}

func (r *Registry) inUse(kind Kind, code string) bool {
	if r.usage == nil {
		return false
	}
	if kind == KindType {
		return r.usage.UsesType(code)
	}
	return r.usage.UsesStatus(code)
}

// List returns the rows of one table ordered by code.
func (r *Registry) List(ctx context.Context, kind Kind) ([]Mapping, error) {
	var rows []Mapping
	err := r.db.WithContext(ctx).Where("kind = ?", string(kind)).Order("code").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list %s mappings: %w", kind, err)
	}
	return rows, nil
}

// Name looks up a single code.
func (r *Registry) Name(ctx context.Context, kind Kind, code string) (string, error) {
	var m Mapping
	err := r.db.WithContext(ctx).Where("kind = ? AND code = ?", string(kind), code).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %s %q", ErrUnknownCode, kind, code)
	}
	if err != nil {
		return "", err
	}
	return m.Name, nil
}

func (r *Registry) names(ctx context.Context, kind Kind) (map[string]string, error) {
	rows, err := r.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, m := range rows {
		out[m.Code] = m.Name
	}
	return out, nil
}

// TypeNames returns the unit type table.
func (r *Registry) TypeNames(ctx context.Context) (map[string]string, error) {
	return r.names(ctx, KindType)
}

// StatusNames returns the status table.
func (r *Registry) StatusNames(ctx context.Context) (map[string]string, error) {
	return r.names(ctx, KindStatus)
}

// Close releases the database handle.
func (r *Registry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
