package docstore

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// parseRev splits "<generation>-<hash>"
func parseRev(rev string) (int, string, error) {
	gen, hash, ok := strings.Cut(rev, "-")
	if !ok || hash == "" {
		return 0, "", fmt.Errorf("%w: invalid revision %q", ErrBadRequest, rev)
	}
	n, err := strconv.Atoi(gen)
	if err != nil || n < 1 {
		return 0, "", fmt.Errorf("%w: invalid revision %q", ErrBadRequest, rev)
	}
	return n, hash, nil
}

func generation(rev string) int {
	n, _, err := parseRev(rev)
	if err != nil {
		return 0
	}
	return n
}

// nextRev derives the child revision id from its parent and content, so the
// same edit made twice yields the same revision.
func nextRev(parent string, deleted bool, body []byte) string {
	h := md5.New()
	h.Write([]byte(parent))
	h.Write([]byte{0})
	if deleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(body)
	return strconv.Itoa(generation(parent)+1) + "-" + hex.EncodeToString(h.Sum(nil))
}

// beats orders leaves: live before deleted, then higher generation, then
// higher revision string.
func beats(a, b *Leaf) bool {
	if a.Deleted != b.Deleted {
		return !a.Deleted
	}
	return revGreater(a.Rev, b.Rev)
}

func revGreater(a, b string) bool {
	ga, gb := generation(a), generation(b)
	if ga != gb {
		return ga > gb
	}
	return a > b
}

func sortRevsDesc(revs []string) {
	sort.Slice(revs, func(i, j int) bool { return revGreater(revs[i], revs[j]) })
}

func childLeaf(parent Leaf, deleted bool, body []byte) Leaf {
	return Leaf{
		Rev:     nextRev(parent.Rev, deleted, body),
		Deleted: deleted,
		Body:    body,
		History: capHistory(append([]string{parent.Rev}, parent.History...)),
	}
}

func capHistory(h []string) []string {
	if len(h) > RevsLimit {
		return h[:RevsLimit]
	}
	return h
}

// encodeBody drops underscore fields; map keys are emitted sorted, which
// keeps revision hashes stable.
func encodeBody(body map[string]interface{}) ([]byte, error) {
	clean := make(map[string]interface{}, len(body))
	for k, v := range body {
		if strings.HasPrefix(k, "_") {
			continue
		}
		clean[k] = v
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return data, nil
}

func decodeBody(data []byte) (map[string]interface{}, error) {
	body := make(map[string]interface{})
	if len(data) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	return body, nil
}
