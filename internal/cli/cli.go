// Package cli holds the start-up plumbing shared by the beespec commands: configuration
// files, log files, version banners and fatal errors.
package cli

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/ucb-seti/beespec"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// DotDir is the per-user directory holding config.yaml and logs/.
func DotDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".beespec"), nil
}

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", err
	}
	fullname := filepath.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// SetupViper says where to find config files: config.yaml in /etc/beespec, the dot
// directory (created if needed) or the working directory. BEESPEC_* environment
// variables override the files, and flags override both.
func SetupViper(dotDir string, flags *pflag.FlagSet) error {
	viper.SetDefault("verbose", false)
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotDir, filename+suffix); err != nil {
		return err
	}
	viper.SetConfigName(filename)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(filepath.FromSlash("/etc/beespec"))
	viper.AddConfigPath(dotDir)
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("BEESPEC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if flags == nil {
		return nil
	}
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := viper.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	return bindErr
}

func startLogger(pfname string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	}, "", log.LstdFlags)
}

// StartLogs sends beespec.ProblemLogger and beespec.UpdateLogger to rotating files in
// dotDir/logs and returns their paths.
func StartLogs(dotDir string) (problems, updates string, err error) {
	logdir := filepath.Join(dotDir, "logs")
	if problems, err = makeFileExist(logdir, "problems.log"); err != nil {
		return
	}
	if updates, err = makeFileExist(logdir, "updates.log"); err != nil {
		return
	}
	beespec.ProblemLogger = startLogger(problems)
	beespec.UpdateLogger = startLogger(updates)
	return
}

// Start prepares a command: build info, log files and configuration. It prints the banner
// and where the logs go.
func Start(tool string, flags *pflag.FlagSet) {
	beespec.Build.Githash = githash
	beespec.Build.Date = strings.ReplaceAll(buildDate, ".", " ")
	if host, err := os.Hostname(); err == nil {
		beespec.Build.Host = host
	} else {
		beespec.Build.Host = "host not detected"
	}
	beespec.Build.Summary = fmt.Sprintf("beespec %s version %s (git commit %s)", tool, beespec.Build.Version, githash)

	dot, err := DotDir()
	if err != nil {
		ExitWithError("finding home directory", err)
	}
	problems, updates, err := StartLogs(dot)
	if err != nil {
		ExitWithError("starting log files", err)
	}
	fmt.Printf("\nThis is %s\n", beespec.Build.Summary)
	fmt.Printf("Logging problems to %s\n", problems)
	fmt.Printf("Logging updates  to %s\n\n", updates)
	beespec.UpdateLogger.Printf("\n\n%s", beespec.Build.Summary)

	if err := SetupViper(dot, flags); err != nil {
		ExitWithError("reading configuration", err)
	}
}

// Decode fills cfg from the configuration and, in verbose mode, logs the result.
func Decode(cfg any) {
	if err := viper.Unmarshal(cfg); err != nil {
		ExitWithError("decoding configuration", err)
	}
	if viper.GetBool("verbose") {
		beespec.UpdateLogger.Printf("Configuration:\n%s", spew.Sdump(cfg))
	}
}

// VersionCmd prints the build information.
func VersionCmd(tool string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and quit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("This is beespec %s version %s\n", tool, beespec.Build.Version)
			fmt.Printf("Git commit hash: %s\n", githash)
			fmt.Printf("Build time: %s\n", buildDate)
			fmt.Printf("Built on go version %s\n", runtime.Version())
			fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		},
	}
}

// ExitWithError prints the error message and exits with code 1.
func ExitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
