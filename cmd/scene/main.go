// Command scene runs a one-shot hazard analysis of a single image,
// the same call the dashboard's scene button makes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/roverlink/go-rover/internal/log"
	"github.com/roverlink/go-rover/pkg/vision"
)

func main() {
	imagePath := flag.String("image", "", "Path to a JPEG or PNG image")
	mimeType := flag.String("mime", "image/jpeg", "Image MIME type")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")
	flag.Parse()

	log.Init("warn")

	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "usage: scene -image path/to/frame.jpg")
		os.Exit(2)
	}

	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "GOOGLE_API_KEY is not set")
		os.Exit(2)
	}

	image, err := os.ReadFile(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read image: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	analyzer := vision.NewAnalyzer(apiKey)
	fmt.Println(analyzer.Analyze(ctx, image, *mimeType))
}
