package basic_auth

import (
	"context"
	"encoding/base64"
	"strconv"

	"github.com/favbox/breeze/app"
	"github.com/favbox/breeze/internal/bytesconv"
	"github.com/favbox/breeze/protocol/consts"
)

// Accounts 用于构建用户名:密码映射。
type Accounts map[string]string

// 用于构建标头值:用户名的反向映射。
type pairs map[string]string

func (p pairs) findValue(needle string) (v string, ok bool) {
	v, ok = p[needle]
	return
}

func constructPairs(accounts Accounts) pairs {
	length := len(accounts)
	p := make(pairs, length)
	for user, password := range accounts {
		value := "Basic " + base64.StdEncoding.EncodeToString(bytesconv.S2b(user+":"+password))
		p[value] = user
	}
	return p
}

// BasicAuthForRealm 返回指定领域和用户键名的基本 HTTP 授权中间件。
// accounts 的 key 是用户名，value 是密码。
// realm 是资源所在的领域名称，若为空白字符串则默认使用 "Authorization Required"。
// 详见 http://tools.ietf.org/html/rfc2617#section-1.2
func BasicAuthForRealm(accounts Accounts, realm, userKey string) app.Middleware {
	if realm == "" {
		realm = "Authorization Required"
	}
	realm = "Basic realm=" + strconv.Quote(realm)
	p := constructPairs(accounts)
	return func(next app.Handler) app.Handler {
		return app.HandlerFunc(func(c context.Context, ctx *app.RequestContext) (app.Result, error) {
			user, found := p.findValue(ctx.Request.Header.Get(consts.HeaderAuthorization))
			if !found {
				// 凭据不匹配，返回 401 并终止处理链
				ctx.Header(consts.HeaderWWWAuthenticate, realm)
				ctx.String(consts.StatusUnauthorized, "401 Unauthorized")
				return app.Done, nil
			}

			// 找到用户凭证，以 userKey 为键存储在上下文中以供后续使用
			ctx.Set(userKey, user)
			return next.Handle(c, ctx)
		})
	}
}

// BasicAuth 构造基本授权中间件，用户名保存在键 "user" 下。
func BasicAuth(accounts Accounts) app.Middleware {
	return BasicAuthForRealm(accounts, "Authorization Required", "user")
}
