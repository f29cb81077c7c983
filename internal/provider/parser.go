package provider

import (
	"encoding/json"
	"strings"

	"github.com/hitoshi/vpswatch/internal/model"
)

// Entry はアップストリーム応答から抽出した(datacenter, status)ペアを表す。
type Entry struct {
	Datacenter model.Datacenter
	Status     model.Status
}

// ParseResult は可用性応答のデコード結果を表す。
type ParseResult struct {
	Entries []Entry
	// Fallback はどの戦略もマッチせず、固定データセンター一覧を
	// すべてout_of_stockとした低信頼結果であることを示す。
	Fallback bool
	// Strategy はマッチしたパーサー戦略の名前。ログ用。
	Strategy string
}

// parserStrategy は応答形状ごとのパーサー戦略。
// parseはマッチしない形状に対して(nil, false)を返す。
type parserStrategy interface {
	name() string
	parse(body []byte) ([]Entry, bool)
}

// strategies は試行順のパーサー戦略一覧。先にマッチしたものが勝つ。
// 最後のフォールバックはDecodeが直接処理する。
var strategies = []parserStrategy{
	objectShape{},
	arrayShape{},
}

// Decode は可用性応答を戦略を順に試行してデコードする。
// どの戦略も非空の結果を返さない場合は、固定データセンター一覧を
// すべてout_of_stockとするフォールバック結果を返す（低信頼、呼び出し元でログする）。
func Decode(body []byte) ParseResult {
	for _, s := range strategies {
		if entries, ok := s.parse(body); ok && len(entries) > 0 {
			return ParseResult{Entries: entries, Strategy: s.name()}
		}
	}

	fallback := make([]Entry, 0, len(model.DefaultDatacenters()))
	for _, dc := range model.DefaultDatacenters() {
		fallback = append(fallback, Entry{Datacenter: dc, Status: model.StatusOutOfStock})
	}
	return ParseResult{Entries: fallback, Fallback: true, Strategy: "fallback_default"}
}

// rawDatacenter は応答中のデータセンター要素。フィールド名の揺れを許容するため、
// 既知のフィールドに加えて残りのキーも保持する。
type rawDatacenter struct {
	Datacenter   string `json:"datacenter"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Availability string `json:"availability"`

	rest map[string]json.RawMessage
}

// UnmarshalJSON は既知フィールドと残余キーの両方を取り込む。
func (r *rawDatacenter) UnmarshalJSON(data []byte) error {
	type alias rawDatacenter
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = rawDatacenter(a)
	// モデル固有のステータスフィールド（プラン名のキーなど）に備えて全キーを保持する
	return json.Unmarshal(data, &r.rest)
}

// entry はrawDatacenterを正規化されたEntryに変換する。
// データセンターコードまたはステータスが解釈できない場合はfalseを返す。
func (r *rawDatacenter) entry() (Entry, bool) {
	code := r.Datacenter
	if code == "" {
		code = r.Name
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Entry{}, false
	}

	// 優先順: status → availability → モデル固有フィールド
	if st, ok := normalizeStatus(r.Status); ok {
		return Entry{Datacenter: model.Datacenter(code), Status: st}, true
	}
	if st, ok := normalizeStatus(r.Availability); ok {
		return Entry{Datacenter: model.Datacenter(code), Status: st}, true
	}
	for key, raw := range r.rest {
		switch key {
		case "datacenter", "name", "status", "availability":
			continue
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		if st, ok := normalizeStatus(v); ok {
			return Entry{Datacenter: model.Datacenter(code), Status: st}, true
		}
	}

	return Entry{}, false
}

// normalizeStatus はステータス文字列の揺れを正規化する。
// 解釈できないトークンはfalseを返す（エントリごと読み飛ばす）。
func normalizeStatus(raw string) (model.Status, bool) {
	token := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case token == "":
		return "", false
	case strings.Contains(token, "unavailable"),
		strings.Contains(token, "out"),
		token == "ko":
		return model.StatusOutOfStock, true
	case strings.Contains(token, "available"),
		strings.Contains(token, "in_stock"),
		strings.Contains(token, "in-stock"),
		token == "ok":
		return model.StatusAvailable, true
	default:
		return "", false
	}
}

// objectShape はプライマリ形状のパーサー。
// {"datacenters": [{"datacenter": "GRA", "status": "available"}, ...]}
type objectShape struct{}

func (objectShape) name() string { return "object_datacenters" }

func (objectShape) parse(body []byte) ([]Entry, bool) {
	var payload struct {
		Datacenters []rawDatacenter `json:"datacenters"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false
	}
	if payload.Datacenters == nil {
		return nil, false
	}
	return collectEntries(payload.Datacenters), true
}

// arrayShape はトップレベルが配列の形状のパーサー。
// [{"datacenters": [...]}, ...] の全要素をフラット化する。
type arrayShape struct{}

func (arrayShape) name() string { return "array_datacenters" }

func (arrayShape) parse(body []byte) ([]Entry, bool) {
	var payload []struct {
		Datacenters []rawDatacenter `json:"datacenters"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false
	}
	var raws []rawDatacenter
	for _, item := range payload {
		raws = append(raws, item.Datacenters...)
	}
	if len(raws) == 0 {
		return nil, false
	}
	return collectEntries(raws), true
}

// collectEntries は解釈できた要素のみを集める。
// 同一データセンターが複数回現れた場合は後勝ちとする。
func collectEntries(raws []rawDatacenter) []Entry {
	seen := make(map[model.Datacenter]int)
	var entries []Entry
	for _, r := range raws {
		e, ok := r.entry()
		if !ok {
			continue
		}
		if idx, dup := seen[e.Datacenter]; dup {
			entries[idx] = e
			continue
		}
		seen[e.Datacenter] = len(entries)
		entries = append(entries, e)
	}
	return entries
}
