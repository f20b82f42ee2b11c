package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"slotboard/domain"
	"slotboard/storage"
)

type seedPerson struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Avatar string `yaml:"avatar"`
}

type seedTeam struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type seedInitiative struct {
	ID     string       `yaml:"id"`
	Title  string       `yaml:"title"`
	Status string       `yaml:"status"`
	RAG    string       `yaml:"rag"`
	Slot   int          `yaml:"slot"`
	Team   *seedTeam    `yaml:"team"`
	Owners []seedPerson `yaml:"owners"`
}

// seedFile is the YAML document describing one tenant's initiatives.
type seedFile struct {
	Tenant      string           `yaml:"tenant"`
	TotalSlots  int              `yaml:"total_slots"`
	Initiatives []seedInitiative `yaml:"initiatives"`
}

func loadSeed(fs afero.Fs, path string) (seedFile, error) {
	var sf seedFile
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return sf, fmt.Errorf("read seed file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return sf, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return sf, nil
}

// initiatives converts the seed entries and checks that IDs and slots are
// unique and every slot lies on the board.
func (sf seedFile) initiatives(totalSlots int) ([]domain.Initiative, error) {
	ids := make(map[string]struct{}, len(sf.Initiatives))
	slots := make(map[int]string, len(sf.Initiatives))
	out := make([]domain.Initiative, 0, len(sf.Initiatives))
	var errs []error
	for i, s := range sf.Initiatives {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("initiative %d: missing id", i))
			continue
		}
		if _, dup := ids[s.ID]; dup {
			errs = append(errs, fmt.Errorf("initiative %s: duplicate id", s.ID))
			continue
		}
		ids[s.ID] = struct{}{}

		in := domain.Initiative{
			ID:     s.ID,
			Title:  s.Title,
			Status: domain.Status(s.Status),
			RAG:    domain.RAG(s.RAG),
		}
		if s.Slot != 0 {
			if err := domain.ValidateSlot(s.Slot, totalSlots); err != nil {
				errs = append(errs, fmt.Errorf("initiative %s: %w", s.ID, err))
				continue
			}
			if other, taken := slots[s.Slot]; taken {
				errs = append(errs, fmt.Errorf("initiative %s: slot %d already holds %s: %w", s.ID, s.Slot, other, domain.ErrSlotOccupied))
				continue
			}
			slots[s.Slot] = s.ID
			in.Slot = domain.IntPtr(s.Slot)
		}
		if s.Team != nil {
			in.Team = &domain.TeamRef{ID: s.Team.ID, Name: s.Team.Name}
		}
		for _, p := range s.Owners {
			in.Owners = append(in.Owners, domain.Owner{Person: domain.PersonRef{ID: p.ID, Name: p.Name, Avatar: p.Avatar}})
		}
		out = append(out, in)
	}
	return out, errors.Join(errs...)
}

// seedTarget stores one initiative of a tenant.
type seedTarget interface {
	Put(ctx context.Context, tenantID string, in domain.Initiative) error
}

type entityUpserter interface {
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
}

// tableTarget writes the initiative row and, for slotted initiatives, the
// slot reservation row.
type tableTarget struct {
	table entityUpserter
}

func (t tableTarget) Put(ctx context.Context, tenantID string, in domain.Initiative) error {
	ent, err := storage.InitiativeEntity(tenantID, in)
	if err != nil {
		return err
	}
	if _, err := t.table.UpsertEntity(ctx, ent, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return fmt.Errorf("upsert initiative %s: %w", in.ID, err)
	}
	if !in.Slotted() {
		return nil
	}
	slot, err := storage.SlotEntity(tenantID, *in.Slot, in.ID)
	if err != nil {
		return err
	}
	if _, err := t.table.UpsertEntity(ctx, slot, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return fmt.Errorf("upsert slot %d: %w", *in.Slot, err)
	}
	return nil
}

type sqliteTarget struct {
	db *storage.SQLite
}

func (t sqliteTarget) Put(ctx context.Context, tenantID string, in domain.Initiative) error {
	return t.db.UpsertInitiative(ctx, tenantID, in)
}

// applySeed writes the initiatives. Unslotted entries go first so that
// initiatives moved back to the pool free their slots before others claim them.
func applySeed(ctx context.Context, target seedTarget, tenantID string, initiatives []domain.Initiative) error {
	ordered := domain.Unslotted(initiatives)
	for _, in := range initiatives {
		if in.Slotted() {
			ordered = append(ordered, in)
		}
	}
	for _, in := range ordered {
		if err := target.Put(ctx, tenantID, in); err != nil {
			return err
		}
		log.WithFields(log.Fields{"tenant": tenantID, "initiative": in.ID, "slot": in.SlotNumber()}).Debug("seeded initiative")
	}
	log.Infof("seeded %d initiatives for tenant %s", len(ordered), tenantID)
	return nil
}
