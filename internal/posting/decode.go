package posting

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// rawEntry is the loosely-typed shape scraper dumps arrive in. Each board's
// scraper names fields slightly differently; the per-source adapter rewrites
// the aliases before decoding so nothing downstream branches on source.
type rawEntry map[string]any

// sourceAliases maps board-specific field names to the canonical raw field
// for every supported source.
var sourceAliases = map[Source]map[string]string{
	SourceLinkedin:  {"job_id": "source_id", "company_name": "company", "apply_url": "url"},
	SourceIndeed:    {"jk": "source_id", "company_name": "company", "link": "url"},
	SourceNaukri:    {"jd_id": "source_id", "company_name": "company", "jd_url": "url", "job_description": "description"},
	SourceShine:     {"id": "source_id", "org": "company", "link": "url"},
	SourceInstahyre: {"id": "source_id", "employer": "company", "job_link": "url"},
	SourceFoundit:   {"job_id": "source_id", "company_name": "company", "redirect_url": "url"},
	SourceGlassdoor: {"job_listing_id": "source_id", "employer_name": "company", "job_view_url": "url"},
}

// LoadDump reads one scraper dump file and adapts its entries into raw
// postings. Entries that do not even carry a known source are dropped and
// counted; the caller decides how to report them.
func LoadDump(path string) (raws []Raw, dropped int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("reading postings dump %q: %w", path, err)
	}

	var entries []rawEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, 0, fmt.Errorf("parsing postings dump %q: %w", path, err)
	}

	raws = make([]Raw, 0, len(entries))
	for _, entry := range entries {
		raw, err := DecodeEntry(entry)
		if err != nil {
			dropped++
			continue
		}
		raws = append(raws, raw)
	}

	return raws, dropped, nil
}

// DecodeEntry adapts a single scraper entry into the canonical raw shape.
func DecodeEntry(entry map[string]any) (Raw, error) {
	src, err := ParseSource(stringField(entry, "source"))
	if err != nil {
		return Raw{}, err
	}

	adapted := make(map[string]any, len(entry))
	aliases := sourceAliases[src]
	for key, value := range entry {
		k := strings.ToLower(key)
		if canonical, ok := aliases[k]; ok {
			k = canonical
		}
		adapted[k] = value
	}

	var raw Raw
	cfg := &mapstructure.DecoderConfig{
		Result:           &raw,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return Raw{}, err
	}
	if err := decoder.Decode(adapted); err != nil {
		return Raw{}, fmt.Errorf("decoding %s entry: %w", src, err)
	}

	raw.Source = src
	return raw, nil
}

func stringField(entry map[string]any, key string) string {
	if v, ok := entry[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
