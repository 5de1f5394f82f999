package main

import (
	"fmt"
	"strings"
)

func printBanner() {
	mark := `
   ███████╗███████╗ ██████╗ ███████╗██╗   ██╗███╗   ███╗
   ██╔════╝██╔════╝██╔═══██╗██╔════╝██║   ██║████╗ ████║
   ███████╗█████╗  ██║   ██║███████╗██║   ██║██╔████╔██║
   ╚════██║██╔══╝  ██║   ██║╚════██║██║   ██║██║╚██╔╝██║
   ███████║███████╗╚██████╔╝███████║╚██████╔╝██║ ╚═╝ ██║
   ╚══════╝╚══════╝ ╚═════╝ ╚══════╝ ╚═════╝ ╚═╝     ╚═╝`
	fmt.Println(clr("cyan", mark))
	fmt.Printf("  %s  %s\n", clr("dim", "Crawl, audit, and score a site's on-page SEO"), clr("dim", "v"+version))
	fmt.Printf("  %s\n", clr("dim", strings.Repeat("─", 58)))
}

func clr(color, text string) string {
	codes := map[string]string{
		"red":    "\033[31m",
		"green":  "\033[32m",
		"yellow": "\033[33m",
		"cyan":   "\033[36m",
		"dim":    "\033[2m",
		"bold":   "\033[1m",
		"reset":  "\033[0m",
	}
	c, ok := codes[color]
	if !ok {
		return text
	}
	return c + text + codes["reset"]
}
