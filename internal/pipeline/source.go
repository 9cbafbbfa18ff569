package pipeline

import (
	"context"
	"errors"
	"os"

	"github.com/mockshelf/mockshelf/internal/apperr"
	"github.com/mockshelf/mockshelf/internal/assets"
)

// AssetSource exports frames from the local asset library. References are
// file paths inside the media store.
type AssetSource struct {
	Assets *assets.Service
}

// Export resolves asset ids to their files. Deleted assets and non-image
// assets are left out; any other lookup failure aborts the export.
func (s AssetSource) Export(ctx context.Context, ids []string) (map[string]string, error) {
	refs := make(map[string]string, len(ids))
	for _, id := range ids {
		a, err := s.Assets.Get(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !a.IsImage() {
			continue
		}
		path, err := s.Assets.Path(a)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "locate asset "+id)
		}
		refs[id] = path
	}
	return refs, nil
}

func (s AssetSource) Fetch(_ context.Context, ref string) ([]byte, error) {
	return os.ReadFile(ref)
}
