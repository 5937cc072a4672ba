package commands

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skycoin/rudp/internal/pathutil"
	"github.com/skycoin/rudp/pkg/node"
)

var (
	output        string
	replace       bool
	mode          string
	remoteAddr    string
	configLocType = pathutil.WorkingDirLoc
)

func init() {
	rootCmd.AddCommand(genConfigCmd)
	genConfigCmd.Flags().StringVarP(&output, "output", "o", "", "path of output config file. Uses default of 'type' flag if unspecified.")
	genConfigCmd.Flags().BoolVarP(&replace, "replace", "r", false, "whether to allow rewrite of a file that already exists.")
	genConfigCmd.Flags().StringVar(&mode, "mode", node.ModeServer, fmt.Sprintf("node mode. Valid values: %s, %s", node.ModeServer, node.ModeClient))
	genConfigCmd.Flags().StringVar(&remoteAddr, "remote", "", "remote node address of a client node")
	genConfigCmd.Flags().VarP(&configLocType, "type", "m", "config location type. Valid values: WD, HOME, LOCAL")
}

var genConfigCmd = &cobra.Command{
	Use:   "gen-config",
	Short: "generates a configuration file",
	PreRun: func(_ *cobra.Command, _ []string) {
		if output == "" {
			var err error
			if output, err = pathutil.NodeDefaults().Get(configLocType); err != nil {
				log.Fatalln(err)
			}
			log.Printf("no 'output,o' flag is empty, using default path: %s", output)
		}
		var err error
		if output, err = filepath.Abs(output); err != nil {
			log.Fatalln("invalid output provided:", err)
		}
	},
	Run: func(_ *cobra.Command, _ []string) {
		conf := node.DefaultConfig()
		conf.Mode = mode
		if mode == node.ModeClient {
			conf.Client.RemoteAddr = remoteAddr
			conf.ListenAddr = ":0"
			conf.HTTPAddr = ""
		}
		if err := conf.Validate(); err != nil {
			log.Fatalln("invalid config:", err)
		}
		if err := pathutil.WriteJSONConfig(conf, output, replace); err != nil {
			log.Fatalln(err)
		}
	},
}
