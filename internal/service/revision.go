package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/internal/port"
)

const fullHashLen = 40

// resolveCommit maps a revision (full or abbreviated hash, HEAD, a branch) to
// the full lower-case commit hash every index key is built from. A full hash
// is taken as is; anything else is resolved by the mirror, whose metadata is
// returned alongside so callers need not ask twice.
func resolveCommit(ctx context.Context, mirror port.Mirror, rev string) (string, *domain.CommitInfo, error) {
	rev = strings.TrimSpace(rev)
	if rev == "" {
		return "", nil, fmt.Errorf("%w: empty hash", port.ErrCommitNotFound)
	}
	if isFullHash(rev) {
		return strings.ToLower(rev), nil, nil
	}
	info, err := mirror.Commit(ctx, rev)
	if err != nil {
		return "", nil, err
	}
	return strings.ToLower(info.Hash), &info, nil
}

func isFullHash(s string) bool {
	if len(s) != fullHashLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
