package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dchest/uniuri"
	"github.com/russross/wimslti/grades"
	"github.com/russross/wimslti/provision"
	. "github.com/russross/wimslti/types"
	"github.com/russross/wimslti/wims"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func CommandLmsAdd(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	lms := new(Lms)
	lms.GUID, _ = flags.GetString("guid")
	lms.Name, _ = flags.GetString("name")
	lms.URL, _ = flags.GetString("url")
	lms.OAuthKey, _ = flags.GetString("key")
	lms.OAuthSecret, _ = flags.GetString("secret")
	if lms.Name == "" {
		lms.Name = lms.GUID
	}
	generated := lms.OAuthSecret == ""
	if generated {
		lms.OAuthSecret = uniuri.NewLen(32)
	}

	st := mustOpenStore()
	defer st.Close()
	if err := st.InsertLms(lms); err != nil {
		log.Fatalf("adding LMS: %v", err)
	}
	fmt.Printf("added LMS %d (%s)\n", lms.ID, lms.Name)
	if generated {
		fmt.Printf("shared secret for key %q: %s\n", lms.OAuthKey, lms.OAuthSecret)
	}
}

func CommandLmsList(cmd *cobra.Command, args []string) {
	st := mustOpenStore()
	defer st.Close()
	list, err := st.ListLms()
	if err != nil {
		log.Fatalf("listing LMSes: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGUID\tNAME\tKEY\tURL")
	for _, elt := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", elt.ID, elt.GUID, elt.Name, elt.OAuthKey, elt.URL)
	}
	w.Flush()
}

func CommandServerAdd(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	srv := new(WimsServer)
	srv.Name, _ = flags.GetString("name")
	srv.URL, _ = flags.GetString("url")
	srv.Ident, _ = flags.GetString("ident")
	srv.Passwd, _ = flags.GetString("passwd")
	srv.RClass, _ = flags.GetString("rclass")
	srv.ClassLimit, _ = flags.GetInt("class-limit")
	srv.ExpirationDays, _ = flags.GetInt("expiration-days")

	// make sure the credentials work before saving them
	info, err := wims.New(srv, Config.Timeout).CheckIdent(context.Background())
	if err != nil {
		log.Fatalf("checking credentials with %s: %v", srv.URL, err)
	}

	st := mustOpenStore()
	defer st.Close()
	if err := st.InsertServer(srv); err != nil {
		log.Fatalf("adding WIMS server: %v", err)
	}
	fmt.Printf("added WIMS server %d (%s, WIMS %s)\n", srv.ID, srv.Name, info.Version)
}

func CommandServerList(cmd *cobra.Command, args []string) {
	lmsID, _ := cmd.Flags().GetInt64("lms")
	st := mustOpenStore()
	defer st.Close()
	list, err := st.ListServers(lmsID)
	if err != nil {
		log.Fatalf("listing WIMS servers: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tURL\tIDENT\tRCLASS")
	for _, elt := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", elt.ID, elt.Name, elt.URL, elt.Ident, elt.RClass)
	}
	w.Flush()
}

func CommandServerAllow(cmd *cobra.Command, args []string) {
	serverID := mustParseID("server id", args[0])
	lmsID := mustParseID("lms id", args[1])

	st := mustOpenStore()
	defer st.Close()
	srv, err := st.ServerByID(serverID)
	if err != nil {
		log.Fatalf("finding WIMS server %d: %v", serverID, err)
	}
	lms, err := st.LmsByID(lmsID)
	if err != nil {
		log.Fatalf("finding LMS %d: %v", lmsID, err)
	}
	if err := st.AllowLms(srv.ID, lms.ID); err != nil {
		log.Fatalf("allowing LMS: %v", err)
	}
	fmt.Printf("%s may now create classes on %s\n", lms.Name, srv.Name)
}

func clientFor(srv *WimsServer) wims.Client {
	return wims.New(srv, Config.Timeout)
}

func CommandRelay(cmd *cobra.Command, args []string) {
	st := mustOpenStore()
	defer st.Close()
	n, err := grades.New(st, logrus.StandardLogger()).Sweep(context.Background(), clientFor)
	if err != nil {
		log.Fatalf("grade relay: %v", err)
	}
	fmt.Printf("%d grade(s) relayed\n", n)
}

func CommandPrune(cmd *cobra.Command, args []string) {
	st := mustOpenStore()
	defer st.Close()
	engine := &provision.Engine{Store: st, Log: logrus.StandardLogger()}
	n, err := engine.PruneClasses(context.Background(), clientFor)
	if err != nil {
		log.Fatalf("prune: %v", err)
	}
	fmt.Printf("%d class mapping(s) pruned\n", n)
}

func CommandHashPassword(cmd *cobra.Command, args []string) {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		fmt.Fprint(os.Stderr, "password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			log.Fatalf("reading password: %v", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		log.Fatalf("refusing to hash an empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("hashing password: %v", err)
	}
	fmt.Println(string(hash))
}
