package navigation

import "github.com/hitoshi/mfgconsole/internal/model"

// Decision はGuardの判定結果。
type Decision int

const (
	// Allow は画面の表示を許可する。
	Allow Decision = iota
	// RedirectLogin は未ログインのためログイン画面へ遷移させる。
	RedirectLogin
	// RedirectDashboard はロールが許可されていないためダッシュボードへ遷移させる。
	RedirectDashboard
)

// String は判定名を返す。
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectDashboard:
		return "redirect_dashboard"
	default:
		return "unknown"
	}
}

// Target は遷移先のパスを返す。Allowの場合は空文字列。
func (d Decision) Target() string {
	switch d {
	case RedirectLogin:
		return PathLogin
	case RedirectDashboard:
		return PathDashboard
	default:
		return ""
	}
}

// Guard は画面へのアクセスを判定する。
// 未ログインはログイン画面へ、ロールが許可されない場合はダッシュボードへ遷移させる。
// メニューに無いパスはログイン済みであれば許可する。
func Guard(u *model.User, path string) Decision {
	if u == nil {
		return RedirectLogin
	}
	item, ok := Lookup(path)
	if !ok || item.Allows(u) {
		return Allow
	}
	return RedirectDashboard
}

// GuardResource はリソース名でアクセスを判定する。CLIから利用する。
func GuardResource(u *model.User, resource string) Decision {
	if u == nil {
		return RedirectLogin
	}
	item, ok := ForResource(resource)
	if !ok || item.Allows(u) {
		return Allow
	}
	return RedirectDashboard
}
