// Package route 决定客户端路由在当前认证状态下应展示的页面。
package route

import "strings"

// Known client routes.
const (
	Home   = "/"
	SignIn = "/signin"
	SignUp = "/signup"
)

// Decision is the outcome of resolving a requested route.
type Decision struct {
	Route    string `json:"route"`
	Redirect bool   `json:"redirect"`
}

// Resolve 根据认证状态解析路径。
// 未认证访问受保护或未知路径时跳转登录页，已认证访问登录或注册页时跳回首页。
func Resolve(path string, authenticated bool) Decision {
	requested := normalize(path)

	if isAuthPage(requested) {
		if authenticated {
			return Decision{Route: Home, Redirect: true}
		}
		return Decision{Route: requested}
	}

	if !authenticated {
		return Decision{Route: SignIn, Redirect: true}
	}
	if requested != Home {
		return Decision{Route: Home, Redirect: true}
	}
	return Decision{Route: Home}
}

func isAuthPage(path string) bool {
	return path == SignIn || path == SignUp
}

// normalize 兼容 "#/signin"、"signin/"、空串等写法。
func normalize(path string) string {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "#")
	if idx := strings.IndexAny(p, "?#"); idx >= 0 {
		p = p[:idx]
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return Home
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.ToLower(p)
}
