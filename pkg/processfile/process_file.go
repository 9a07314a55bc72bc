package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-apphost/pkg/errors"
	"github.com/core-tools/hsu-apphost/pkg/logging"
	"github.com/core-tools/hsu-apphost/pkg/process"
	"github.com/core-tools/hsu-apphost/pkg/processstate"
)

const DefaultAppName = "hsu-apphost"

const (
	pidFileExt  = ".pid"
	portFileExt = ".port"
)

// ProcessFileConfig holds configuration for PID and port file placement
type ProcessFileConfig struct {
	// Base directory for process files. If empty, uses OS-appropriate default
	BaseDirectory string `yaml:"directory,omitempty"`

	ServiceContext ServiceContext `yaml:"context,omitempty"`

	// Application name for subdirectory creation
	AppName string `yaml:"app_name,omitempty"`

	UseSubdirectory bool `yaml:"use_subdirectory,omitempty"`
}

// ServiceContext selects the default base directory
type ServiceContext string

const (
	// UserService keeps files in the per-user runtime directory
	UserService ServiceContext = "user"

	// SessionService keeps files in the temp directory
	SessionService ServiceContext = "session"
)

// ProcessFileManager writes and cleans up the PID and port files of hosted apps.
// A PID file holds the child PID, the PID of the host that launched it and,
// when known, the start time of the child.
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

// StaleProcess is a recorded child whose host is no longer running.
// Running is set only when the live process at PID has the recorded start
// time; PIDReused marks a live process that is someone else.
type StaleProcess struct {
	AppID     string
	PID       int
	HostPID   int
	StartTime string
	PIDFile   string
	Running   bool
	PIDReused bool
	Ports     []int
	PortFile  string
}

type pidRecord struct {
	pid       int
	hostPID   int
	startTime string
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = SessionService
	}
	if config.BaseDirectory == "" {
		config.UseSubdirectory = true
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// Directory is where the files of every app instance are kept
func (m *ProcessFileManager) Directory() string {
	baseDir := m.getBaseDirectory()
	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}
	return baseDir
}

func (m *ProcessFileManager) GeneratePIDFilePath(appID string) string {
	return filepath.Join(m.Directory(), appID+pidFileExt)
}

func (m *ProcessFileManager) GeneratePortFilePath(appID string) string {
	return filepath.Join(m.Directory(), appID+portFileExt)
}

// WritePIDFile records pid as launched by the current process
func (m *ProcessFileManager) WritePIDFile(appID string, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(appID)
	m.logger.Debugf("Writing PID file, app: %s, pid: %d, path: %s", appID, pid, pidFilePath)

	if err := ValidatePIDFileDirectory(pidFilePath); err != nil {
		m.logger.Errorf("PID file directory validation failed, app: %s, path: %s, error: %v", appID, pidFilePath, err)
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", pidFilePath)
	}

	content := fmt.Sprintf("%d\n%d\n", pid, os.Getpid())
	if startTime, err := processstate.StartTime(pid); err == nil {
		content += startTime + "\n"
	} else {
		m.logger.Warnf("Start time unavailable, orphan cleanup will not kill it, app: %s, pid: %d, error: %v", appID, pid, err)
	}
	if err := os.WriteFile(pidFilePath, []byte(content), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, app: %s, pid: %d, path: %s, error: %v", appID, pid, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Debugf("PID file written, app: %s, pid: %d, path: %s", appID, pid, pidFilePath)
	return nil
}

// ReadPIDFile returns the child PID and the host PID recorded for appID
func (m *ProcessFileManager) ReadPIDFile(appID string) (pid int, hostPID int, err error) {
	record, err := readPIDFile(m.GeneratePIDFilePath(appID))
	return record.pid, record.hostPID, err
}

func readPIDFile(path string) (pidRecord, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return pidRecord{}, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", path)
	}

	lines := strings.Fields(string(content))
	if len(lines) == 0 {
		return pidRecord{}, errors.NewValidationError("empty PID file", nil).WithContext("pid_file", path)
	}

	var record pidRecord
	if record.pid, err = process.ValidatePID(lines[0]); err != nil {
		return pidRecord{}, err
	}
	if len(lines) > 1 {
		if record.hostPID, err = process.ValidatePID(lines[1]); err != nil {
			return pidRecord{}, err
		}
	}
	if len(lines) > 2 {
		record.startTime = lines[2]
	}
	return record, nil
}

// WritePortFile records the ports an app instance was bound to, one per line
func (m *ProcessFileManager) WritePortFile(appID string, ports ...int) error {
	portPath := m.GeneratePortFilePath(appID)
	m.logger.Debugf("Writing port file, app: %s, ports: %v, path: %s", appID, ports, portPath)

	if err := ValidatePIDFileDirectory(portPath); err != nil {
		return errors.NewIOError("port file directory validation failed", err).WithContext("port_file", portPath)
	}

	var sb strings.Builder
	for _, port := range ports {
		fmt.Fprintf(&sb, "%d\n", port)
	}
	if err := os.WriteFile(portPath, []byte(sb.String()), 0644); err != nil {
		m.logger.Errorf("Failed to write port file, app: %s, path: %s, error: %v", appID, portPath, err)
		return errors.NewIOError("failed to write port file", err).WithContext("port_file", portPath)
	}

	return nil
}

// ReadPortFile reads the ports recorded for appID
func (m *ProcessFileManager) ReadPortFile(appID string) ([]int, error) {
	return readPortFile(m.GeneratePortFilePath(appID))
}

func readPortFile(path string) ([]int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read port file", err).WithContext("port_file", path)
	}

	var ports []int
	for _, field := range strings.Fields(string(content)) {
		port, err := strconv.Atoi(field)
		if err != nil || port <= 0 || port > 65535 {
			return nil, errors.NewValidationError("invalid port in port file", err).
				WithContext("port_file", path).
				WithContext("content", field)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// RemoveFiles deletes the PID and port files of appID; missing files are ignored
func (m *ProcessFileManager) RemoveFiles(appID string) error {
	collection := errors.NewErrorCollection()
	for _, path := range []string{m.GeneratePIDFilePath(appID), m.GeneratePortFilePath(appID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			collection.Add(errors.NewIOError("failed to remove process file", err).WithContext("path", path))
		}
	}
	return collection.ToError()
}

// FindStale lists recorded apps whose launching host has exited
func (m *ProcessFileManager) FindStale() ([]StaleProcess, error) {
	dir := m.Directory()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIOError("failed to read process file directory", err).WithContext("directory", dir)
	}

	var stale []StaleProcess
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != pidFileExt {
			continue
		}
		appID := strings.TrimSuffix(entry.Name(), pidFileExt)
		pidFile := filepath.Join(dir, entry.Name())

		record, err := readPIDFile(pidFile)
		if err != nil {
			m.logger.Warnf("Skipping unreadable PID file, path: %s, error: %v", pidFile, err)
			continue
		}

		if record.hostPID > 0 {
			if hostRunning, _ := processstate.IsProcessRunning(record.hostPID); hostRunning {
				continue
			}
		}

		sp := StaleProcess{
			AppID:     appID,
			PID:       record.pid,
			HostPID:   record.hostPID,
			StartTime: record.startTime,
			PIDFile:   pidFile,
			PortFile:  m.GeneratePortFilePath(appID),
		}
		if alive, _ := processstate.IsProcessRunning(record.pid); alive {
			sp.Running = sameProcess(record)
			sp.PIDReused = !sp.Running
		}
		if ports, err := readPortFile(sp.PortFile); err == nil {
			sp.Ports = ports
		}
		stale = append(stale, sp)
	}
	return stale, nil
}

// sameProcess reports whether the live process at record.pid is the one recorded.
// Without a recorded start time identity cannot be proven.
func sameProcess(record pidRecord) bool {
	if record.startTime == "" {
		return false
	}
	current, err := processstate.StartTime(record.pid)
	return err == nil && current == record.startTime
}

// CleanupStale kills orphaned children left by crashed hosts and removes their files.
// A PID now held by an unrelated process is left alone.
func (m *ProcessFileManager) CleanupStale() ([]StaleProcess, error) {
	stale, err := m.FindStale()
	if err != nil {
		return nil, err
	}

	collection := errors.NewErrorCollection()
	for _, sp := range stale {
		if sp.PIDReused {
			m.logger.Warnf("PID was reused, not killing, app: %s, pid: %d", sp.AppID, sp.PID)
		}
		if sp.Running {
			m.logger.Infof("Killing orphaned app process, app: %s, pid: %d", sp.AppID, sp.PID)
			if err := process.KillProcessGroup(sp.PID); err != nil {
				collection.Add(errors.NewInternalError("failed to kill orphaned process", err).
					WithContext("app_id", sp.AppID).
					WithContext("pid", sp.PID))
				continue
			}
		}
		collection.Add(m.RemoveFiles(sp.AppID))
	}
	return stale, collection.ToError()
}

func (m *ProcessFileManager) getBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case UserService:
		return m.getUserServiceDirectory()
	default:
		return os.TempDir()
	}
}

func (m *ProcessFileManager) getUserServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
				localAppData = filepath.Join(userProfile, "AppData", "Local")
			} else {
				localAppData = os.TempDir()
			}
		}
		return localAppData

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Caches")

	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}

// ValidatePIDFileDirectory makes sure the directory of a process file exists and is writable
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access process file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create process file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("process file path is not a directory", nil).WithContext("path", dir)
	}

	testFile, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		return errors.NewPermissionError("process file directory is not writable", err).WithContext("directory", dir)
	}
	testFile.Close()
	os.Remove(testFile.Name())

	return nil
}
