package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/russross/wimslti/store"
	. "github.com/russross/wimslti/types"
	"github.com/russross/wimslti/wims"
	"github.com/spf13/cobra"
)

var Config struct {
	DBPath  string
	Timeout time.Duration
}

func main() {
	log.SetFlags(0)

	root := os.Getenv("WIMSLTIROOT")
	if root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, "wimslti")
		}
	}

	cmdAdmin := &cobra.Command{
		Use:   "wimslti-admin",
		Short: "Administer the WIMS LTI connector",
		Long: "Registers LMSes and WIMS servers with the connector\n" +
			"and runs its maintenance sweeps by hand.",
	}
	cmdAdmin.PersistentFlags().StringVar(&Config.DBPath, "db", filepath.Join(root, "db", "wimslti.db"), "path to the sqlite database")
	cmdAdmin.PersistentFlags().DurationVar(&Config.Timeout, "timeout", wims.DefaultTimeout, "timeout for WIMS server requests")

	cmdVersion := &cobra.Command{
		Use:   "version",
		Short: "print the version number of wimslti-admin",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("wimslti-admin " + CurrentVersion.Version)
		},
	}
	cmdAdmin.AddCommand(cmdVersion)

	cmdLms := &cobra.Command{
		Use:   "lms",
		Short: "manage registered LMSes",
	}
	cmdLmsAdd := &cobra.Command{
		Use:   "add",
		Short: "register an LMS and its OAuth consumer key",
		Long: fmt.Sprintf("The GUID must match the tool_consumer_instance_guid the LMS sends.\n"+
			"A random secret is generated when --secret is not given.\n\n"+
			"   Example: '%s lms add --guid moodle.example.org --name Moodle --key moodle'", os.Args[0]),
		Run: CommandLmsAdd,
	}
	cmdLmsAdd.Flags().String("guid", "", "tool_consumer_instance_guid of the LMS")
	cmdLmsAdd.Flags().String("name", "", "display name")
	cmdLmsAdd.Flags().String("url", "", "home page of the LMS")
	cmdLmsAdd.Flags().String("key", "", "OAuth consumer key")
	cmdLmsAdd.Flags().String("secret", "", "OAuth shared secret")
	cmdLmsAdd.MarkFlagRequired("guid")
	cmdLmsAdd.MarkFlagRequired("key")
	cmdLms.AddCommand(cmdLmsAdd)
	cmdLms.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list registered LMSes",
		Run:   CommandLmsList,
	})
	cmdAdmin.AddCommand(cmdLms)

	cmdServer := &cobra.Command{
		Use:   "server",
		Short: "manage WIMS servers",
	}
	cmdServerAdd := &cobra.Command{
		Use:   "add",
		Short: "register a WIMS server",
		Long: fmt.Sprintf("The ident and password must match an adm/raw access file on the server.\n\n"+
			"   Example: '%s server add --name WIMS --url https://wims.example.org/wims/wims.cgi "+
			"--ident lti --passwd secret --rclass lti'", os.Args[0]),
		Run: CommandServerAdd,
	}
	cmdServerAdd.Flags().String("name", "", "display name")
	cmdServerAdd.Flags().String("url", "", "URL of wims.cgi")
	cmdServerAdd.Flags().String("ident", "", "adm/raw ident")
	cmdServerAdd.Flags().String("passwd", "", "adm/raw password")
	cmdServerAdd.Flags().String("rclass", "", "namespace for created classes")
	cmdServerAdd.Flags().Int("class-limit", DefaultClassLimit, "default capacity of created classes")
	cmdServerAdd.Flags().Int("expiration-days", 365, "default lifetime of created classes")
	for _, name := range []string{"name", "url", "ident", "passwd", "rclass"} {
		cmdServerAdd.MarkFlagRequired(name)
	}
	cmdServer.AddCommand(cmdServerAdd)
	cmdServerList := &cobra.Command{
		Use:   "list",
		Short: "list WIMS servers",
		Run:   CommandServerList,
	}
	cmdServerList.Flags().Int64("lms", 0, "only servers allowing this LMS id")
	cmdServer.AddCommand(cmdServerList)
	cmdServer.AddCommand(&cobra.Command{
		Use:   "allow <server id> <lms id>",
		Short: "allow an LMS to create classes on a server",
		Args:  cobra.ExactArgs(2),
		Run:   CommandServerAllow,
	})
	cmdAdmin.AddCommand(cmdServer)

	cmdAdmin.AddCommand(&cobra.Command{
		Use:   "relay",
		Short: "send every known grade to its LMS now",
		Run:   CommandRelay,
	})
	cmdAdmin.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "forget classes deleted from their WIMS server",
		Run:   CommandPrune,
	})
	cmdAdmin.AddCommand(&cobra.Command{
		Use:   "hash-password [password]",
		Short: "print the bcrypt hash for adminPasswordHash",
		Long:  "Reads the password from standard input when it is not given.",
		Args:  cobra.MaximumNArgs(1),
		Run:   CommandHashPassword,
	})

	if err := cmdAdmin.Execute(); err != nil {
		os.Exit(1)
	}
}

func mustOpenStore() *store.Store {
	st, err := store.Open(Config.DBPath)
	if err != nil {
		log.Fatalf("error opening database %s: %v", Config.DBPath, err)
	}
	return st
}

func mustParseID(name, s string) int64 {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil || id < 1 {
		log.Fatalf("invalid %s %q: must be 1 or greater", name, s)
	}
	return id
}
