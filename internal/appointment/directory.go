package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MemoryDirectory is an in-process Directory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	names    map[uuid.UUID]string
	notFound error
}

// NewMemoryDirectory returns an empty directory that reports missing ids with notFound.
func NewMemoryDirectory(notFound error) *MemoryDirectory {
	return &MemoryDirectory{names: make(map[uuid.UUID]string), notFound: notFound}
}

func (d *MemoryDirectory) Add(id uuid.UUID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[id] = name
}

func (d *MemoryDirectory) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.names[id]
	return ok, nil
}

func (d *MemoryDirectory) GetName(_ context.Context, id uuid.UUID) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[id]
	if !ok {
		return "", d.notFound
	}
	return name, nil
}

// DirectoryFile is the JSON document memory storage loads its patients and
// practitioners from.
type DirectoryFile struct {
	Practitioners []Person `json:"practitioners"`
	Patients      []Person `json:"patients"`
}

func ReadDirectoryFile(path string) (DirectoryFile, error) {
	var file DirectoryFile
	data, err := os.ReadFile(path)
	if err != nil {
		return file, fmt.Errorf("read directory file: %w", err)
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse directory file %s: %w", path, err)
	}
	return file, nil
}

// LoadDirectoryFile reads path into a patient and a practitioner directory.
func LoadDirectoryFile(path string) (patients, practitioners *MemoryDirectory, err error) {
	file, err := ReadDirectoryFile(path)
	if err != nil {
		return nil, nil, err
	}

	patients = NewMemoryDirectory(ErrPatientNotFound)
	for _, p := range file.Patients {
		patients.Add(p.ID, p.Name)
	}
	practitioners = NewMemoryDirectory(ErrPractitionerNotFound)
	for _, p := range file.Practitioners {
		practitioners.Add(p.ID, p.Name)
	}
	return patients, practitioners, nil
}

// WriteDirectoryFile stores file as indented JSON at path.
func WriteDirectoryFile(path string, file DirectoryFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode directory file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write directory file: %w", err)
	}
	return nil
}

// PgDirectory reads people from the patients or practitioners table.
type PgDirectory struct {
	pool     *pgxpool.Pool
	table    string
	notFound error
}

func NewPgPatientDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool, table: "patients", notFound: ErrPatientNotFound}
}

func NewPgPractitionerDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool, table: "practitioners", notFound: ErrPractitionerNotFound}
}

func (d *PgDirectory) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, d.table), id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s exists: %w", d.table, err)
	}
	return exists, nil
}

func (d *PgDirectory) GetName(ctx context.Context, id uuid.UUID) (string, error) {
	var name string
	err := d.pool.QueryRow(ctx, fmt.Sprintf(`SELECT name FROM %s WHERE id = $1`, d.table), id).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", d.notFound
		}
		return "", fmt.Errorf("load %s name: %w", d.table, err)
	}
	return name, nil
}
