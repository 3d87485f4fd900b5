package proxy

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidToken 表示路径中的令牌无法还原为 http/https 上游地址。
var ErrInvalidToken = errors.New("invalid token")

var tokenEncodings = []*base64.Encoding{
	base64.RawURLEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.StdEncoding,
}

// EncodeToken 将上游 URL 编码为可直接放入路径段的令牌。
func EncodeToken(rawURL string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(rawURL))
}

// DecodeToken 还原令牌，兼容带填充与标准字母表的写法，以及早期生成的 JSON 字符串形式。
func DecodeToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	var decoded []byte
	for _, enc := range tokenEncodings {
		if raw, err := enc.DecodeString(token); err == nil {
			decoded = raw
			break
		}
	}
	if len(decoded) == 0 {
		return "", ErrInvalidToken
	}

	value := strings.TrimSpace(string(decoded))
	if strings.HasPrefix(value, `"`) {
		var unquoted string
		if err := json.Unmarshal([]byte(value), &unquoted); err != nil {
			return "", ErrInvalidToken
		}
		value = unquoted
	}

	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" {
		return "", ErrInvalidToken
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return value, nil
	default:
		return "", ErrInvalidToken
	}
}
