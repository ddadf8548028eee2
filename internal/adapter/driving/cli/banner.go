package cli

import (
	"fmt"
	"io"

	"github.com/diillson/cloud-finops-engine/pkg/console"
	"github.com/diillson/cloud-finops-engine/pkg/version"
)

// displayWelcomeBanner exibe o banner de boas-vindas com informações de versão.
func displayWelcomeBanner(out io.Writer) {
	banner := `
   _____ _                 _   _____ _        ___              _____             _
  / ____| |               | | |  ___(_)      / _ \            |  ___|           (_)
 | |    | | ___  _   _  __| | | |_   _ _ __ | | | |_ __  ___  | |__ _ __   __ _ _ _ __   ___
 | |    | |/ _ \| | | |/ _' | |  _| | | '_ \| | | | '_ \/ __| |  __| '_ \ / _' | | '_ \ / _ \
 | |____| | (_) | |_| | (_| | | |   | | | | | |_| | |_) \__ \ | |__| | | | (_| | | | | |  __/
  \_____|_|\___/ \__,_|\__,_| \_|   |_|_| |_|\___/| .__/|___/ \____/_| |_|\__, |_|_| |_|\___|
                                                  | |                      __/ |
                                                  |_|                     |___/
        `
	fmt.Fprintln(out, console.BrightRed(banner))
	fmt.Fprintln(out, console.BrightCyan(fmt.Sprintf("Cloud FinOps Engine (v%s)", version.FormatVersion())))
}
