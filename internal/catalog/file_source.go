package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/spec-kit/sla-engine/internal/domain"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// PolicyFile is the layout of a TOML policy file: one or more [[policies]] tables.
type PolicyFile struct {
	Policies []domain.PolicyDocument `toml:"policies"`
}

// FileSource serves policies loaded from *.toml files in a directory.
// Deactivation only lasts for the life of the process.
type FileSource struct {
	mu       sync.RWMutex
	docs     map[string]map[int]domain.PolicyDocument
	inactive map[string]bool
}

// NewFileSource loads every *.toml file in dir.
func NewFileSource(dir string) (*FileSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policy dir %s: %w", dir, err)
	}
	src := &FileSource{
		docs:     make(map[string]map[int]domain.PolicyDocument),
		inactive: make(map[string]bool),
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		docs, err := LoadPolicyFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			src.add(doc)
		}
	}
	return src, nil
}

// LoadPolicyFile decodes one TOML policy file.
func LoadPolicyFile(path string) ([]domain.PolicyDocument, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodePolicyFile(body)
}

// DecodePolicyFile decodes TOML policy documents without validating them.
func DecodePolicyFile(body []byte) ([]domain.PolicyDocument, error) {
	var file PolicyFile
	if err := toml.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidPolicy, err)
	}
	for i := range file.Policies {
		if file.Policies[i].Version <= 0 {
			file.Policies[i].Version = 1
		}
	}
	return file.Policies, nil
}

func (s *FileSource) add(doc domain.PolicyDocument) {
	versions, ok := s.docs[doc.ID]
	if !ok {
		versions = make(map[int]domain.PolicyDocument)
		s.docs[doc.ID] = versions
	}
	versions[doc.Version] = doc
}

func (s *FileSource) ListActive(_ context.Context, tenantID string) ([]domain.PolicyDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.PolicyDocument
	for id, versions := range s.docs {
		if s.inactive[id] {
			continue
		}
		for _, doc := range versions {
			if doc.Active != nil && !*doc.Active {
				continue
			}
			if doc.TenantID != "" && doc.TenantID != tenantID {
				continue
			}
			result = append(result, doc)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ID != result[j].ID {
			return result[i].ID < result[j].ID
		}
		return result[i].Version > result[j].Version
	})
	return result, nil
}

func (s *FileSource) GetVersion(_ context.Context, id string, version int) (domain.PolicyDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id][version]
	if !ok {
		return domain.PolicyDocument{}, apperrors.ErrPolicyNotFound
	}
	return doc, nil
}

func (s *FileSource) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return apperrors.ErrPolicyNotFound
	}
	s.inactive[id] = true
	return nil
}
