// Package hashtag は投稿本文からハッシュタグを抽出する。
//
// ハッシュタグは「#」に続く1文字以上の単語構成文字（Unicodeの文字・数字・アンダースコア）で、
// 「#」の直前の文字は問わない。そのため "edge#notag" からも "notag" が抽出される。
package hashtag

import (
	"regexp"
	"strings"
)

// pattern はハッシュタグ1個にマッチする正規表現。
var pattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)

// tagPattern は「#」を除いたタグ単体として有効な文字列にマッチする。
var tagPattern = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)

// Extract はメッセージを左から走査し、重ならないハッシュタグを出現順に返す。
// 先頭の「#」は取り除く。重複は除去しない。
// マッチがない場合は空のスライス（nilではない）を返す。
func Extract(message string) []string {
	matches := pattern.FindAllString(message, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1:])
	}
	return tags
}

// Normalize は検索条件として受け取ったタグを正規化する。
// 先頭の「#」を1つだけ許容し、残りが有効なタグでなければfalseを返す。
func Normalize(tag string) (string, bool) {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "#")
	if !tagPattern.MatchString(tag) {
		return "", false
	}
	return tag, true
}

// Contains はメッセージから抽出したハッシュタグに tag が含まれるかを返す。
// 大文字小文字は区別しない。部分一致ではないため、"#golang" は tag "go" にマッチしない。
func Contains(message, tag string) bool {
	normalized, ok := Normalize(tag)
	if !ok {
		return false
	}
	for _, t := range Extract(message) {
		if strings.EqualFold(t, normalized) {
			return true
		}
	}
	return false
}
