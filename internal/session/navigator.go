package session

// NopNavigator は画面遷移を行わないNavigator。
type NopNavigator struct{}

func (NopNavigator) ToLanding() {}
func (NopNavigator) ToLogin()   {}

// NavigatorFuncs は関数でNavigatorを組み立てる。nilのフィールドは何もしない。
type NavigatorFuncs struct {
	Landing func()
	Login   func()
}

// ToLanding はLandingを呼び出す。
func (n NavigatorFuncs) ToLanding() {
	if n.Landing != nil {
		n.Landing()
	}
}

// ToLogin はLoginを呼び出す。
func (n NavigatorFuncs) ToLogin() {
	if n.Login != nil {
		n.Login()
	}
}
