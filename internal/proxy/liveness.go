package proxy

func alwaysAlive() bool { return true }
