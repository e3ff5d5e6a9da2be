package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"charityledger/cmd/internal/passphrase"
	"charityledger/config"
	"charityledger/crypto"
	"charityledger/indexer"
	"charityledger/native/bank"
	"charityledger/rpc"
)

const (
	defaultPassEnv = "CHARITY_KEYSTORE_PASS"
	defaultConfig  = "./config.toml"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:], os.Stdout)
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "address":
		err = runAddress(os.Args[2:], os.Stdout)
	case "export":
		err = runExport(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: donationctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen    generate a caller key and write it to an encrypted keystore")
	fmt.Fprintln(w, "  token     issue a bearer token for a caller address")
	fmt.Fprintln(w, "  address   print the custody address of a campaign or the service ledger")
	fmt.Fprintln(w, "  export    write archived events to a parquet file")
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	path := fs.String("keystore", "caller.keystore", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	light := fs.Bool("light", false, "Use light scrypt parameters (development only)")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("keystore %s already exists (use --force to overwrite)", *path)
	}

	pass, err := passphrase.NewSource(*passEnv, passphrase.WithConfirmation()).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	strength := crypto.StandardStrength
	if *light {
		strength = crypto.LightStrength
	}
	addr, err := crypto.WriteKeystore(*path, key, pass, strength)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "address: %s\nkeystore: %s\n", addr.String(), *path)
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Daemon configuration providing the auth settings")
	address := fs.String("address", "", "Caller address (chrt1...)")
	keystorePath := fs.String("keystore", "", "Read the caller address from a keystore instead")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	subject, err := resolveCaller(*address, *keystorePath, *passEnv)
	if err != nil {
		return err
	}
	token, err := rpc.IssueToken(rpc.AuthConfig{
		HMACSecret: cfg.Auth.Secret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, subject, time.Now(), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func resolveCaller(address, keystorePath, passEnv string) ([20]byte, error) {
	switch {
	case address != "" && keystorePath != "":
		return [20]byte{}, errors.New("--address and --keystore are mutually exclusive")
	case address != "":
		return crypto.ParseAddress(address)
	case keystorePath != "":
		pass, err := passphrase.NewSource(passEnv).Get()
		if err != nil {
			return [20]byte{}, err
		}
		key, err := crypto.ReadKeystore(keystorePath, pass)
		if err != nil {
			return [20]byte{}, err
		}
		return key.PubKey().Address().Array(), nil
	default:
		return [20]byte{}, errors.New("one of --address or --keystore is required")
	}
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	campaign := fs.Int64("campaign", -1, "Campaign id")
	service := fs.Bool("service", false, "Print the service ledger custody address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch {
	case *service && *campaign >= 0:
		return errors.New("--campaign and --service are mutually exclusive")
	case *service:
		fmt.Fprintln(out, bank.FormatCustody(bank.ServiceAddress()))
	case *campaign >= 0:
		fmt.Fprintln(out, bank.FormatCustody(bank.CampaignAddress(uint64(*campaign))))
	default:
		return errors.New("one of --campaign or --service is required")
	}
	return nil
}

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Daemon configuration providing the indexer settings")
	output := fs.StringP("output", "o", "events.parquet", "Destination parquet file")
	eventType := fs.String("type", "", "Only export events of this type")
	campaign := fs.Int64("campaign", -1, "Only export events for this campaign")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.Indexer.Driver == "" {
		return errors.New("indexer disabled in configuration")
	}
	archive, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN, nil)
	if err != nil {
		return err
	}
	defer archive.Close()

	q := indexer.Query{Type: strings.TrimSpace(*eventType)}
	if *campaign >= 0 {
		id := uint64(*campaign)
		q.CampaignID = &id
	}
	rows, err := archive.ExportParquet(context.Background(), *output, q)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d events to %s\n", rows, *output)
	return nil
}
