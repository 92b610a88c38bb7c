package logging

import "testing"

func TestElementLoggerNoopWithoutDebug(t *testing.T) {
	l := Element("el-1", false)
	// Should not panic even though the underlying sink is a no-op logger.
	l.Debugf("should be discarded")
	l.Errorf("also discarded")
}

func TestElementLoggerEmitsWithDebug(t *testing.T) {
	l := Element("el-2", true)
	if l.sugar == nil {
		t.Fatal("expected a non-nil sugared logger when debug is enabled")
	}
	l.Infof("hello %s", "world")
}

func TestMuteSuppressesSystemLogger(t *testing.T) {
	Mute()
	defer Unmute()

	l := System()
	l.Errorf("should not panic while muted")
}

func TestSystemLoggerLevels(t *testing.T) {
	l := System()
	l.Debugf("debug")
	l.Infof("info")
	l.Warnf("warn")
	l.Errorf("error")
}
