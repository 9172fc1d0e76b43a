package jsondiff

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/wezm/node-simperium/internal/syncerr"
)

var errNotAnObject = fmt.Errorf("%w: top-level value is not a mapping", syncerr.ErrMalformedOperation)

// makeDMPPatch computes a diff_match_patch patch string that turns base
// into modified.
func makeDMPPatch(base, modified string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(base, modified, false)
	patches := dmp.PatchMake(base, diffs)
	return dmp.PatchToText(patches)
}

// applyDMPPatch applies a diff_match_patch patch to base using the
// library's canonical (fuzzy-matching) semantics.
func applyDMPPatch(patchText, base string) (string, error) {
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return "", fmt.Errorf("%w: bad dmp patch: %v", syncerr.ErrMalformedOperation, err)
	}
	result, _ := dmp.PatchApply(patches, base)
	return result, nil
}

// dmpTransform rebases localPatch (computed against baseString) onto the
// result of applying upstreamPatch to baseString. It returns ok=false if
// the rebase could not be applied cleanly, signalling the caller to drop
// the local operation and let upstream win (§4.1).
func dmpTransform(localPatch, upstreamPatch, baseString string) (string, bool) {
	dmp := diffmatchpatch.New()

	upstreamPatches, err := dmp.PatchFromText(upstreamPatch)
	if err != nil {
		return "", false
	}
	newBase, _ := dmp.PatchApply(upstreamPatches, baseString)

	localPatches, err := dmp.PatchFromText(localPatch)
	if err != nil {
		return "", false
	}
	rebasedText, results := dmp.PatchApply(localPatches, newBase)
	for _, ok := range results {
		if !ok {
			return "", false
		}
	}

	newDiffs := dmp.DiffMain(newBase, rebasedText, false)
	newPatches := dmp.PatchMake(newBase, newDiffs)
	return dmp.PatchToText(newPatches), true
}
