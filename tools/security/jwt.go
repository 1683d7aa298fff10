package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 2h）
}

// Claims 客户端关心的字段
type Claims struct {
	UserID    int64
	Username  string
	ExpiresAt time.Time // zero when the token has no exp
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// HashToken 日志里只打印指纹，不打印原始 token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:8])
}

// Generate signs a token for userID. The client never signs its own
// credentials; this mints tokens for tests and local development servers.
func Generate(opts Options, userID int64, username string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	if username != "" {
		claims["username"] = username
	}

	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ParseUnverified 只解析不验签：验签是服务端的事，客户端只需要 user id 和过期时间
func ParseUnverified(token string) (Claims, error) {
	mc := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, err
	}

	var out Claims
	uid, err := userIDFrom(mc)
	if err != nil {
		return Claims{}, err
	}
	out.UserID = uid
	if v, ok := mc["username"].(string); ok {
		out.Username = v
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// userIDFrom reads "sub", falling back to "user_id"; both may be a string or
// a number.
func userIDFrom(mc jwtlib.MapClaims) (int64, error) {
	for _, k := range []string{"sub", "user_id"} {
		switch v := mc[k].(type) {
		case string:
			if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
				return id, nil
			}
		case float64:
			if v > 0 {
				return int64(v), nil
			}
		}
	}
	return 0, errors.New("token carries no numeric sub or user_id")
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
