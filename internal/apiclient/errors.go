package apiclient

import (
	"bytes"
	"encoding/json"
	"mime"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/mfgconsole/internal/model"
)

// messageKeys はエラーペイロードで人間向けメッセージを保持するキー（優先順）。
var messageKeys = []string{"detail", "message", "error"}

// ParseError はエラーレスポンスのボディを解析して*model.APIErrorを返す。
//
// 対応するペイロード:
//   - {"detail": "..."} / {"message": "..."} / {"error": "..."}
//   - {"field": ["msg", ...], "non_field_errors": ["msg"]}（フィールドエラー）
//   - HTMLのエラーページ（<title>をメッセージとして扱う）
//
// メッセージが取れない場合はMessageを空のまま返し、表示側で汎用メッセージにする。
func ParseError(status int, contentType string, body []byte) *model.APIError {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return model.NewStatusError(status, "", nil)
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "text/html" || (mediaType == "" && trimmed[0] == '<') {
		return model.NewStatusError(status, htmlTitle(trimmed), nil)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		// JSON配列のエラー（["msg"]）にも対応する
		var list []string
		if err := json.Unmarshal(trimmed, &list); err == nil && len(list) > 0 {
			return model.NewStatusError(status, list[0], nil)
		}
		return model.NewStatusError(status, "", nil)
	}

	message := ""
	for _, key := range messageKeys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		if s := stringOrFirst(raw); s != "" {
			message = s
			break
		}
	}

	fieldErrors := make(map[string][]string)
	for key, raw := range payload {
		if isMessageKey(key) || key == "code" || key == "messages" {
			continue
		}
		if msgs := stringList(raw); len(msgs) > 0 {
			fieldErrors[key] = msgs
		}
	}
	if len(fieldErrors) == 0 {
		fieldErrors = nil
	}

	return model.NewStatusError(status, message, fieldErrors)
}

func isMessageKey(key string) bool {
	for _, k := range messageKeys {
		if k == key {
			return true
		}
	}
	return false
}

// stringOrFirst は文字列、または文字列配列の先頭要素を返す。
func stringOrFirst(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if list := stringList(raw); len(list) > 0 {
		return list[0]
	}
	return ""
}

// stringList はフィールドエラーの値を文字列スライスに変換する。
// ネストしたオブジェクト（{"items": {"0": ["msg"]}}）は"子キー: msg"に平坦化する。
func stringList(raw json.RawMessage) []string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return []string{s}
		}
		return nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []string
		for _, item := range list {
			out = append(out, stringList(item)...)
		}
		return out
	}

	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err == nil {
		keys := make([]string, 0, len(nested))
		for k := range nested {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			for _, msg := range stringList(nested[k]) {
				out = append(out, k+": "+msg)
			}
		}
		return out
	}

	return nil
}

// htmlTitle はHTMLエラーページの<title>テキストを返す。
// プロキシやデバッグページがHTMLを返した場合の表示用メッセージに使う。
func htmlTitle(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "title" {
				return ""
			}
		case html.TextToken:
			if inTitle {
				return strings.Join(strings.Fields(string(z.Text())), " ")
			}
		}
	}
}
