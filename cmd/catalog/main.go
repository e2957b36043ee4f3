package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/DavidJBarnes/wanly-api/internal/adapter/repo"
	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/infra"
)

// catalogFile is the seed document accepted by -file.
type catalogFile struct {
	Modifiers []struct {
		ID                string   `json:"id"`
		Name              string   `json:"name"`
		HighFile          *string  `json:"high_file"`
		HighURI           *string  `json:"high_s3_uri"`
		LowFile           *string  `json:"low_file"`
		LowURI            *string  `json:"low_s3_uri"`
		DefaultHighWeight *float64 `json:"default_high_weight"`
		DefaultLowWeight  *float64 `json:"default_low_weight"`
	} `json:"modifiers"`
	OptionLists map[string][]string `json:"option_lists"`
}

type catalogWriter interface {
	PutModifier(ctx context.Context, m domain.Modifier) error
	PutOptionList(ctx context.Context, name string, options []string) error
}

func main() {
	var (
		fileFlag   string
		dryRunFlag bool
	)
	flag.StringVar(&fileFlag, "file", "", "catalog JSON file with modifiers and option_lists (- for stdin)")
	flag.BoolVar(&dryRunFlag, "dry-run", false, "validate the file without writing")
	flag.Parse()

	_ = godotenv.Load()

	if strings.TrimSpace(fileFlag) == "" {
		exitWithError(errors.New("-file is required"))
	}
	var in io.Reader = os.Stdin
	if fileFlag != "-" {
		f, err := os.Open(fileFlag)
		if err != nil {
			exitWithError(err)
		}
		defer f.Close()
		in = f
	}
	modifiers, lists, err := parseCatalog(in)
	if err != nil {
		exitWithError(err)
	}
	if dryRunFlag {
		fmt.Printf("catalog ok: %d modifiers, %d option lists\n", len(modifiers), len(lists))
		return
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to create pool: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "catalog").Logger()
	store := repo.NewStore(infra.NewSQLRunner(pool, logger))
	if err := store.Migrate(ctx); err != nil {
		exitWithError(fmt.Errorf("migrate schema: %w", err))
	}
	if err := seed(ctx, store, modifiers, lists); err != nil {
		exitWithError(err)
	}
	fmt.Printf("catalog stored: %d modifiers, %d option lists\n", len(modifiers), len(lists))
}

func parseCatalog(r io.Reader) ([]domain.Modifier, map[string][]string, error) {
	var doc catalogFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Modifiers))
	modifiers := make([]domain.Modifier, 0, len(doc.Modifiers))
	for i, raw := range doc.Modifiers {
		id := strings.TrimSpace(raw.ID)
		if id == "" {
			return nil, nil, fmt.Errorf("modifiers[%d]: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, nil, fmt.Errorf("modifiers[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		name := strings.TrimSpace(raw.Name)
		if name == "" {
			name = id
		}
		m := domain.Modifier{
			ID:                id,
			Name:              name,
			HighFile:          raw.HighFile,
			HighURI:           raw.HighURI,
			LowFile:           raw.LowFile,
			LowURI:            raw.LowURI,
			DefaultHighWeight: 1.0,
			DefaultLowWeight:  1.0,
		}
		if raw.DefaultHighWeight != nil {
			m.DefaultHighWeight = *raw.DefaultHighWeight
		}
		if raw.DefaultLowWeight != nil {
			m.DefaultLowWeight = *raw.DefaultLowWeight
		}
		modifiers = append(modifiers, m)
	}

	lists := make(map[string][]string, len(doc.OptionLists))
	for name, options := range doc.OptionLists {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, nil, errors.New("option_lists: empty list name")
		}
		cleaned := make([]string, 0, len(options))
		for _, opt := range options {
			if opt = strings.TrimSpace(opt); opt != "" {
				cleaned = append(cleaned, opt)
			}
		}
		if len(cleaned) == 0 {
			return nil, nil, fmt.Errorf("option_lists.%s: at least one option is required", name)
		}
		lists[name] = cleaned
	}
	return modifiers, lists, nil
}

func seed(ctx context.Context, w catalogWriter, modifiers []domain.Modifier, lists map[string][]string) error {
	for _, m := range modifiers {
		if err := w.PutModifier(ctx, m); err != nil {
			return fmt.Errorf("store modifier %s: %w", m.ID, err)
		}
	}
	names := make([]string, 0, len(lists))
	for name := range lists {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.PutOptionList(ctx, name, lists[name]); err != nil {
			return fmt.Errorf("store option list %s: %w", name, err)
		}
	}
	return nil
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
