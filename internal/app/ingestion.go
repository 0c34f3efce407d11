package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"recipe-assistant/internal/llm"
	"recipe-assistant/internal/recipe"
)

// IngestReport counts what an ingestion run did.
type IngestReport struct {
	Parsed int
	Saved  int
	Failed int
	Photos int
}

// IngestRecipes loads an HTML recipe export, copies the photos found next to it,
// embeds every recipe and upserts it by id. A recipe that cannot be embedded or
// saved is logged and skipped; the run goes on with the next one.
func (a *App) IngestRecipes(ctx context.Context, exportPath string) (IngestReport, error) {
	var report IngestReport

	f, err := os.Open(exportPath)
	if err != nil {
		return report, fmt.Errorf("failed to open export: %w", err)
	}
	parsed, err := recipe.ParseExport(f)
	f.Close()
	if err != nil {
		return report, err
	}
	report.Parsed = len(parsed)
	log.Printf("Found %d recipes in %s", len(parsed), exportPath)

	embedder := a.embedder
	var cache *llm.CachedEmbeddingGenerator
	if a.cfg.EmbeddingCachePath != "" {
		cache, err = llm.NewCachedEmbeddingGenerator(a.embedder, a.cfg.EmbeddingCachePath, a.cfg.EmbeddingModel)
		if err != nil {
			return report, err
		}
		embedder = cache
		defer func() {
			if err := cache.SaveCache(); err != nil {
				log.Printf("Warning: failed to save embedding cache: %v", err)
			}
		}()
	}

	imagesDir := filepath.Join(filepath.Dir(exportPath), "images")
	for i, p := range parsed {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		rec := p.Recipe
		rec.PhotoURLs = a.storePhotos(rec.ID, imagesDir, p.PhotoFiles)
		report.Photos += len(rec.PhotoURLs)

		embedding, err := embedder.GenerateEmbedding(ctx, rec.EmbeddingText())
		if err != nil {
			log.Printf("Failed to embed '%s': %v", rec.Name, err)
			report.Failed++
			continue
		}
		if err := a.Recipes.Save(ctx, rec, embedding); err != nil {
			log.Printf("Failed to save '%s': %v", rec.Name, err)
			report.Failed++
			continue
		}
		report.Saved++
		log.Printf("Upserted '%s' (%d photos, %d dimensions)", rec.Name, len(rec.PhotoURLs), len(embedding))

		if a.cfg.IngestDelay > 0 && i < len(parsed)-1 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(a.cfg.IngestDelay):
			}
		}
	}

	log.Printf("Ingestion complete: %d saved, %d failed", report.Saved, report.Failed)
	return report, nil
}

// storePhotos copies the recipe photos into the photo directory and returns
// their public URLs. Files missing on disk are skipped.
func (a *App) storePhotos(recipeID, imagesDir string, files []string) []string {
	urls := []string{}
	if a.cfg.PhotoDir == "" {
		return urls
	}
	for _, name := range files {
		name = filepath.Base(name)
		src := filepath.Join(imagesDir, name)
		if _, err := os.Stat(src); err != nil {
			log.Printf("Image not found on disk, skipping: %s", name)
			continue
		}
		dst := filepath.Join(a.cfg.PhotoDir, recipeID, name)
		if err := copyFile(src, dst); err != nil {
			log.Printf("Failed to store photo %s: %v", name, err)
			continue
		}
		urls = append(urls, a.cfg.PhotoBaseURL+"/"+url.PathEscape(recipeID)+"/"+url.PathEscape(name))
	}
	return urls
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
