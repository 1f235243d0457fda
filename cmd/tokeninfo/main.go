package main

import (
	"fmt"
	"os"
	"time"

	"studiochat/internal/auth"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: tokeninfo <jwt>")
		os.Exit(1)
	}

	claims, err := auth.ParseClaims(os.Args[1])
	if err != nil {
		fmt.Printf("Error parsing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("User:    %s\n", claims.UserID)
	fmt.Printf("Role:    %s\n", claims.Role)
	if claims.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}

	if err := auth.CheckExpiry(claims, time.Now()); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
